package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/eventecho/internal/ics"
	"github.com/dukerupert/eventecho/internal/middleware"
	"github.com/dukerupert/eventecho/internal/model"
	"github.com/dukerupert/eventecho/internal/store"
	ws "github.com/dukerupert/eventecho/internal/websocket"
)

// EventStore is the storage the HTTP API needs.
type EventStore interface {
	Create(ownerKey, description, date string, eventTime *string) (int64, error)
	ListUpcoming(ownerKey string) []model.Event
	ClearAll(ownerKey string) bool
}

type EventHandler struct {
	events EventStore
	hub    *ws.Hub
	logger *slog.Logger
	now    func() time.Time
}

// NewEventHandler creates the event API. hub may be nil, in which case no
// change notifications are sent.
func NewEventHandler(es EventStore, hub *ws.Hub, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: es, hub: hub, logger: logger, now: time.Now}
}

type eventRequest struct {
	Owner       string  `json:"owner"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
	Time        *string `json:"time"`
}

func (req *eventRequest) validate() error {
	req.Owner = strings.TrimSpace(req.Owner)
	req.Description = strings.TrimSpace(req.Description)
	req.Date = strings.TrimSpace(req.Date)

	if req.Owner == "" {
		return errors.New("owner is required")
	}
	if req.Description == "" {
		return errors.New("description is required")
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return errors.New("date must be YYYY-MM-DD")
	}
	if req.Time != nil {
		t := strings.TrimSpace(*req.Time)
		if t == "" {
			req.Time = nil
			return nil
		}
		if _, err := time.Parse("15:04", t); err != nil || len(t) != 5 {
			return errors.New("time must be HH:MM")
		}
		req.Time = &t
	}
	return nil
}

func ownerParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required")
		return "", false
	}
	return owner, true
}

func (h *EventHandler) notify(owner string, msg ws.Message) {
	if h.hub != nil {
		h.hub.SendTo(owner, msg)
	}
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.events.Create(req.Owner, req.Description, req.Date, req.Time)
	if err != nil {
		h.logger.Error("create event", "request_id", middleware.RequestID(r.Context()), "owner", req.Owner, "error", err)
		if errors.Is(err, store.ErrStorageFailure) {
			writeError(w, http.StatusInternalServerError, "storage failure")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	h.notify(req.Owner, ws.NewMessage("event", "created", id, map[string]any{"date": req.Date}))
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// List returns the owner's upcoming events. Storage errors yield an empty
// array.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.events.ListUpcoming(owner))
}

func (h *EventHandler) Clear(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}

	cleared := h.events.ClearAll(owner)
	if cleared {
		h.notify(owner, ws.NewMessage("event", "cleared", 0, nil))
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": cleared})
}

// Calendar serves the owner's upcoming events as an iCalendar feed.
func (h *EventHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}

	body, skipped := ics.Export(owner, h.events.ListUpcoming(owner), time.Local, h.now().UTC())
	if skipped > 0 {
		h.logger.Warn("ics export skipped malformed events", "request_id", middleware.RequestID(r.Context()), "owner", owner, "skipped", skipped)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="eventecho.ics"`)
	w.Write([]byte(body))
}
