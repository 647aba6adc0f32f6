package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/intelliDean/PhantomBet/internal/domain"
	"github.com/intelliDean/PhantomBet/internal/sweep"
)

// StateSource is satisfied by *sweep.Sweeper.
type StateSource interface {
	State() sweep.State
}

// StatusHandler serves the orchestrator's state and last sweep.
type StatusHandler struct {
	nodeID string
	mode   string
	state  StateSource
	store  domain.SettlementStore
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler. store may be nil.
func NewStatusHandler(nodeID, mode string, state StateSource, store domain.SettlementStore, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{nodeID: nodeID, mode: mode, state: state, store: store, logger: logger}
}

// GetStatus returns the live state. When this process has not finished a
// sweep yet, the last persisted one is reported instead.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.state.State()
	last := st.Last
	if last == nil && h.store != nil {
		sum, err := h.store.LastSweep(r.Context())
		switch {
		case err == nil:
			last = &sum
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.WarnContext(r.Context(), "load last sweep", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":    h.nodeID,
		"mode":       h.mode,
		"state":      st,
		"last_sweep": last,
	})
}
