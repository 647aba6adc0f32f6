package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/intelliDean/PhantomBet/internal/domain"
	"github.com/intelliDean/PhantomBet/internal/events"
)

var streamIDPattern = regexp.MustCompile(`^[0-9]+(-[0-9]+)?$`)

// EventsHandler replays settlement events from the durable event stream so
// a client that missed live websocket frames can catch up.
type EventsHandler struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler reading events.Stream from bus.
func NewEventsHandler(bus domain.SignalBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns up to limit events recorded after the stream id in
// "after" ("0", the default, starts from the oldest retained event). The
// response's "next" is the id to pass as "after" on the following call.
// GET /api/events
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	if !streamIDPattern.MatchString(after) {
		writeError(w, http.StatusBadRequest, errBadParam("after").Error())
		return
	}
	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, errBadParam("limit").Error())
			return
		}
		limit = min(n, maxLimit)
	}

	msgs, err := h.bus.StreamRead(r.Context(), events.Stream, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read event stream", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	out := make([]streamEvent, 0, len(msgs))
	next := after
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			h.logger.WarnContext(r.Context(), "skipping malformed stream entry", slog.String("id", m.ID))
		} else {
			out = append(out, streamEvent{ID: m.ID, Event: m.Payload})
		}
		next = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "next": next})
}
