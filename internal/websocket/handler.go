package websocket

import (
	"log/slog"
	"net/http"
	"strconv"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/eventecho/internal/chat"
)

// Dispatcher answers chat messages.
type Dispatcher interface {
	Handle(msg chat.Message) string
}

// HandleWebSocket returns an HTTP handler that upgrades
// /ws?user_id=<n>&username=<handle> to a chat connection.
func HandleWebSocket(hub *Hub, d Dispatcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		username := q.Get("username")

		var userID int64
		if s := q.Get("user_id"); s != "" {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				http.Error(w, "user_id must be numeric", http.StatusBadRequest)
				return
			}
			userID = id
		}
		if username == "" && userID == 0 {
			http.Error(w, "username or user_id is required", http.StatusBadRequest)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // chat clients are not browsers on our origin
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		owner := chat.OwnerKey(username, userID)
		logger.Debug("chat client connected", "owner", owner)

		client := NewClient(hub, conn, owner, func(text string) string {
			return d.Handle(chat.Message{UserID: userID, Username: username, Text: text})
		})
		client.Run(r.Context())

		logger.Debug("chat client disconnected", "owner", owner)
	}
}
