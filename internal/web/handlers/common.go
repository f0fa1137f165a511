package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/khoj/internal/detector"
	"github.com/kozaktomas/khoj/internal/facematch"
	"github.com/kozaktomas/khoj/internal/gallery"
	"github.com/kozaktomas/khoj/internal/identify"
	"github.com/kozaktomas/khoj/internal/match"
)

// Error codes returned next to the message so clients can branch without
// parsing text.
const (
	codeBadRequest        = "bad_request"
	codeNoFace            = "no_face_detected"
	codeEmptyGallery      = "empty_gallery"
	codeDuplicate         = "duplicate_identity"
	codeUnsavedChanges    = "unsaved_changes"
	codeDimensionMismatch = "dimension_mismatch"
	codeStorageCorrupt    = "storage_corrupt"
	codeIndexOutOfSync    = "index_out_of_sync"
	codeDetector          = "detector_error"
	codeNoDetector        = "detector_unavailable"
	codeTimeout           = "timeout"
	codeInternal          = "internal_error"
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": code})
}

// respondServiceError maps service errors to status codes. Integrity failures
// are logged at error level and never reported as an ordinary miss.
func respondServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		dimErr     *facematch.DimensionMismatchError
		corruptErr *gallery.StorageCorruptError
	)
	switch {
	case errors.Is(err, facematch.ErrNoFaceDetected):
		respondError(w, http.StatusUnprocessableEntity, codeNoFace, err.Error())
	case errors.Is(err, match.ErrEmptyGallery):
		respondError(w, http.StatusNotFound, codeEmptyGallery, err.Error())
	case errors.Is(err, gallery.ErrDuplicateIdentity):
		respondError(w, http.StatusConflict, codeDuplicate, err.Error())
	case errors.Is(err, identify.ErrUnsavedChanges):
		respondError(w, http.StatusConflict, codeUnsavedChanges, err.Error())
	case errors.Is(err, gallery.ErrInvalidRecord), errors.Is(err, facematch.ErrInvalidFace):
		respondError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.As(err, &dimErr):
		log.Error("embedding dimension mismatch", "expected", dimErr.Expected, "actual", dimErr.Actual)
		respondError(w, http.StatusInternalServerError, codeDimensionMismatch, err.Error())
	case errors.As(err, &corruptErr):
		log.Error("gallery storage corrupt", "path", corruptErr.Path, "reason", corruptErr.Reason)
		respondError(w, http.StatusInternalServerError, codeStorageCorrupt, err.Error())
	case errors.Is(err, match.ErrIndexOutOfSync):
		log.Error("vector index out of sync", "error", err)
		respondError(w, http.StatusInternalServerError, codeIndexOutOfSync, err.Error())
	case errors.Is(err, identify.ErrNoDetector):
		respondError(w, http.StatusServiceUnavailable, codeNoDetector, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, codeTimeout, "request timed out")
	case errors.Is(err, detector.ErrInvalidResponse):
		log.Error("detector returned an invalid response", "error", err)
		respondError(w, http.StatusBadGateway, codeDetector, err.Error())
	default:
		log.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// readUpload reads the multipart "file" field, bounded by maxBytes.
func readUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errors.New("upload too large")
		}
		return nil, errors.New("failed to parse form")
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("missing file field")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("failed to read file")
	}
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	return data, nil
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
