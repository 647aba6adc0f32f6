package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// Triggerer is satisfied by *sweep.Sweeper.
type Triggerer interface {
	Trigger() bool
}

// SweepHandler lets operators request an immediate pass.
type SweepHandler struct {
	sweeper Triggerer
	logger  *slog.Logger
}

// NewSweepHandler creates a SweepHandler.
func NewSweepHandler(sweeper Triggerer, logger *slog.Logger) *SweepHandler {
	return &SweepHandler{sweeper: sweeper, logger: logger}
}

// TriggerSweep queues a pass for the polling loop. A request made while one
// is already queued is accepted and coalesced.
// POST /api/sweep/trigger
func (h *SweepHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	queued := h.sweeper.Trigger()
	h.logger.InfoContext(r.Context(), "sweep trigger requested", slog.Bool("queued", queued))

	msg := "sweep queued"
	if !queued {
		msg = "a sweep request is already pending"
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"queued":       queued,
		"message":      msg,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
