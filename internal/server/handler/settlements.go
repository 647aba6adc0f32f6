package handler

import (
	"log/slog"
	"net/http"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// SettlementHandler serves settlement history.
type SettlementHandler struct {
	store  domain.SettlementStore
	logger *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(store domain.SettlementStore, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{store: store, logger: logger}
}

// ListSettlements returns attempts newest first.
// GET /api/settlements?limit=&offset=&status=&market_id=&since=
func (h *SettlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.list(w, r, opts)
}

// MarketSettlements returns the attempts for one market.
// GET /api/markets/{id}/settlements
func (h *SettlementHandler) MarketSettlements(w http.ResponseWriter, r *http.Request) {
	id, err := marketIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.MarketID = &id
	h.list(w, r, opts)
}

func (h *SettlementHandler) list(w http.ResponseWriter, r *http.Request, opts domain.ListOpts) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "settlement history is disabled")
		return
	}
	attempts, err := h.store.ListAttempts(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list settlements", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settlements": attempts,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}
