package api

import (
	"net/http"
	"strconv"

	"airsense/internal/events"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventsHandler serves the device event history
type EventsHandler struct {
	store *events.Store
}

// NewEventsHandler creates new events handler
func NewEventsHandler(store *events.Store) *EventsHandler {
	return &EventsHandler{store: store}
}

// EventsResponse is the body of GET /api/events
type EventsResponse struct {
	Events []events.Event `json:"events"`
	LastID int64          `json:"lastId"`
}

// List returns events, newest first.
// GET /api/events?limit=50&since=123&type=button
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var list []events.Event
	if sinceID, err := strconv.ParseInt(q.Get("since"), 10, 64); err == nil {
		// Polling clients want everything after the last seen id
		list = h.store.GetSince(sinceID)
	} else {
		limit := defaultEventLimit
		if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
			limit = min(l, maxEventLimit)
		}
		list = h.store.GetLast(limit)
	}

	if t := q.Get("type"); t != "" {
		filtered := list[:0:0]
		for _, e := range list {
			if string(e.Type) == t {
				filtered = append(filtered, e)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []events.Event{}
	}

	writeJSON(w, http.StatusOK, EventsResponse{
		Events: list,
		LastID: h.store.LastID(),
	})
}
