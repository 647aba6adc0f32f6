package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	s3blob "github.com/intelliDean/PhantomBet/internal/blob/s3"
	"github.com/intelliDean/PhantomBet/internal/domain"
)

var digestPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// EvidenceHandler serves archived evidence bundles.
type EvidenceHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

// NewEvidenceHandler creates an EvidenceHandler.
func NewEvidenceHandler(reader domain.BlobReader, logger *slog.Logger) *EvidenceHandler {
	return &EvidenceHandler{reader: reader, logger: logger}
}

// ListBundles lists a market's archived bundles.
// GET /api/markets/{id}/evidence
func (h *EvidenceHandler) ListBundles(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	infos, err := h.reader.List(r.Context(), fmt.Sprintf("evidence/%d/", id))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list evidence", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list evidence")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "bundles": infos})
}

// GetBundle streams one archived bundle.
// GET /api/markets/{id}/evidence/{digest}
func (h *EvidenceHandler) GetBundle(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	digest := r.PathValue("digest")
	if !digestPattern.MatchString(digest) {
		writeError(w, http.StatusBadRequest, "invalid digest")
		return
	}

	body, err := h.reader.Get(r.Context(), s3blob.EvidencePath(id, digest))
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bundle not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "get evidence", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load evidence")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}
