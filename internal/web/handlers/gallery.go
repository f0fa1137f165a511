package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kozaktomas/khoj/internal/gallery"
	"github.com/kozaktomas/khoj/internal/identify"
)

// GalleryService is the part of identify.Service the gallery endpoints need.
type GalleryService interface {
	Stats() identify.Stats
	Records() []gallery.Record
	RebuildIndex(ctx context.Context) error
	Persist(ctx context.Context) error
	Reload(ctx context.Context) error
}

// GalleryHandler handles gallery maintenance endpoints.
type GalleryHandler struct {
	svc GalleryService
	log *slog.Logger
}

// NewGalleryHandler creates a new gallery handler.
func NewGalleryHandler(svc GalleryService, log *slog.Logger) *GalleryHandler {
	return &GalleryHandler{svc: svc, log: log}
}

// Stats returns the gallery and index state.
func (h *GalleryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Stats())
}

// IdentityResponse is one gallery row without its embedding.
type IdentityResponse struct {
	EmbeddingIndex int    `json:"embedding_index"`
	IdentityID     string `json:"identity_id"`
	Name           string `json:"name"`
	Info           string `json:"info"`
}

// Identities lists enrolled identities, paged with offset and limit.
func (h *GalleryHandler) Identities(w http.ResponseWriter, r *http.Request) {
	offset, limit := 0, 100
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, codeBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, http.StatusBadRequest, codeBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	records := h.svc.Records()
	out := make([]IdentityResponse, 0, limit)
	for i := offset; i < len(records) && len(out) < limit; i++ {
		out = append(out, IdentityResponse{
			EmbeddingIndex: i,
			IdentityID:     records[i].IdentityID,
			Name:           records[i].DisplayName,
			Info:           records[i].AuxiliaryInfo,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total":      len(records),
		"identities": out,
	})
}

// Rebuild rebuilds the vector index from the gallery.
func (h *GalleryHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RebuildIndex(r.Context()); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, h.svc.Stats())
}

// Persist writes unsaved records to disk.
func (h *GalleryHandler) Persist(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Persist(r.Context()); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, h.svc.Stats())
}

// Reload replaces the live gallery with the persisted one.
func (h *GalleryHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reload(r.Context()); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, h.svc.Stats())
}
