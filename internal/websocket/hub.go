package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Message is a JSON frame sent to chat clients: command replies, event
// change notifications and scheduled digests.
type Message struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Entity string         `json:"entity,omitempty"`
	Action string         `json:"action,omitempty"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a change notification with Type derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Reply wraps a chat reply.
func Reply(text string) Message {
	return Message{Type: "reply", Text: text}
}

// Hub tracks connected clients by owner key.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client under its owner key.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.owner]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.owner] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel. Calling it twice
// is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.owner]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.owner)
		}
	}
	h.mu.Unlock()
}

// SendTo delivers msg to every client connected as owner and reports how
// many clients it was queued for.
func (h *Hub) SendTo(owner string, msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients[owner] {
		if c.trySend(data) {
			sent++
		}
	}
	return sent
}

// Broadcast sends msg to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, set := range h.clients {
		for c := range set {
			c.trySend(data)
		}
	}
}

// Connected reports whether owner has at least one live client.
func (h *Hub) Connected(owner string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[owner]) > 0
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
