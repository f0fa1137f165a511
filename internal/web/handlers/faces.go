package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/gallery"
	"github.com/kozaktomas/khoj/internal/identify"
	"github.com/kozaktomas/khoj/internal/match"
)

// FaceService is the part of identify.Service the face endpoints need.
type FaceService interface {
	Identify(ctx context.Context, image []byte, source facematch.SourceKind, opts identify.SearchOptions) (match.Outcome, error)
	EnrollImage(ctx context.Context, image []byte, req identify.EnrollRequest) (int, error)
	Record(i int) (gallery.Record, bool)
}

// FacesHandler handles face search and enrollment.
type FacesHandler struct {
	svc       FaceService
	maxUpload int64
	log       *slog.Logger
}

// NewFacesHandler creates a new faces handler.
func NewFacesHandler(svc FaceService, maxUpload int64, log *slog.Logger) *FacesHandler {
	return &FacesHandler{svc: svc, maxUpload: maxUpload, log: log}
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	SearchID   string         `json:"search_id"`
	Status     match.Status   `json:"status"`
	Matches    []match.Result `json:"matches"`
	DurationMs int64          `json:"duration_ms"`
}

// Search identifies the faces in an uploaded image.
func (h *FacesHandler) Search(w http.ResponseWriter, r *http.Request) {
	opts, source, err := parseSearchQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	image, err := readUpload(w, r, h.maxUpload)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	searchID := uuid.NewString()
	start := time.Now()
	outcome, err := h.svc.Identify(r.Context(), image, source, opts)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	if err := outcome.Err(); err != nil {
		h.log.Info("search without match", "search_id", searchID, "status", outcome.Status)
		respondServiceError(w, h.log, err)
		return
	}

	elapsed := time.Since(start)
	h.log.Info("search completed",
		"search_id", searchID,
		"source", source,
		"matches", len(outcome.Matches),
		"duration", elapsed,
	)
	respondJSON(w, http.StatusOK, SearchResponse{
		SearchID:   searchID,
		Status:     outcome.Status,
		Matches:    outcome.Matches,
		DurationMs: elapsed.Milliseconds(),
	})
}

func parseSearchQuery(r *http.Request) (identify.SearchOptions, facematch.SourceKind, error) {
	var opts identify.SearchOptions
	q := r.URL.Query()

	if v := q.Get("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k < 1 {
			return opts, "", errBadParam("top_k must be a positive integer")
		}
		opts.TopK = k
	}
	if v := q.Get("min_confidence"); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil || c < 0 || c > 1 {
			return opts, "", errBadParam("min_confidence must be between 0 and 1")
		}
		opts.MinConfidence = c
	}
	source, err := facematch.ParseSourceKind(q.Get("source"))
	if err != nil {
		return opts, "", errBadParam(err.Error())
	}
	return opts, source, nil
}

type errBadParam string

func (e errBadParam) Error() string { return string(e) }

// EnrollResponse is the body of a successful enroll.
type EnrollResponse struct {
	EmbeddingIndex int    `json:"embedding_index"`
	IdentityID     string `json:"identity_id"`
	Name           string `json:"name"`
	Info           string `json:"info"`
	Warning        string `json:"warning,omitempty"`
}

// Enroll adds the primary face of an uploaded image to the gallery.
func (h *FacesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	image, err := readUpload(w, r, h.maxUpload)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	req := identify.EnrollRequest{
		IdentityID:    r.FormValue("identity_id"),
		DisplayName:   r.FormValue("name"),
		AuxiliaryInfo: r.FormValue("info"),
	}
	if req.IdentityID == "" && req.DisplayName == "" {
		respondError(w, http.StatusBadRequest, codeBadRequest, "identity_id or name is required")
		return
	}

	idx, err := h.svc.EnrollImage(r.Context(), image, req)
	resp := EnrollResponse{EmbeddingIndex: idx}
	switch {
	case errors.Is(err, identify.ErrNotPersisted):
		h.log.Error("enrolled identity not persisted", "embedding_index", idx, "error", err)
		resp.Warning = err.Error()
	case err != nil:
		h.log.Warn("enroll failed", "identity_id", sanitizeForLog(req.IdentityID), "error", err)
		respondServiceError(w, h.log, err)
		return
	}

	if rec, ok := h.svc.Record(idx); ok {
		resp.IdentityID = rec.IdentityID
		resp.Name = rec.DisplayName
		resp.Info = rec.AuxiliaryInfo
	}
	respondJSON(w, http.StatusCreated, resp)
}
