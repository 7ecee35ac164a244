package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/eventecho/internal/backup"
	"github.com/dukerupert/eventecho/internal/chat"
	"github.com/dukerupert/eventecho/internal/config"
	"github.com/dukerupert/eventecho/internal/handler"
	"github.com/dukerupert/eventecho/internal/middleware"
	"github.com/dukerupert/eventecho/internal/reminder"
	"github.com/dukerupert/eventecho/internal/store"
	ws "github.com/dukerupert/eventecho/internal/websocket"
)

const (
	apiRateLimit   = 60
	shutdownNotice = "The server is restarting. Reconnect in a moment."
)

type Server struct {
	hub           *ws.Hub
	eventH        *handler.EventHandler
	dispatcher    *chat.Dispatcher
	rateLimiter   *middleware.RateLimiter
	digest        *reminder.Scheduler
	backupManager *backup.Manager
	logger        *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	eventStore := store.NewEventStore(db, logger.With("component", "store"))
	rateLimiter := middleware.NewRateLimiter()
	backupMgr := backup.NewManager(cfg.Backup, cfg.DBPath, db, store.NewBackupStore(db), logger.With("component", "backup"))

	s := &Server{
		hub:           hub,
		eventH:        handler.NewEventHandler(eventStore, hub, logger.With("component", "events")),
		dispatcher:    chat.NewDispatcher(eventStore, rateLimiter, cfg.ChatRateLimit, cfg.BaseURL, logger.With("component", "chat")),
		rateLimiter:   rateLimiter,
		backupManager: backupMgr,
		logger:        logger,
	}
	if cfg.DigestSchedule != "" {
		s.digest = reminder.NewScheduler(eventStore, hub, cfg.DigestSchedule, logger.With("component", "digest"))
	}
	return s
}

// Start launches the digest and backup schedules.
func (s *Server) Start() error {
	if s.digest != nil {
		if err := s.digest.Start(); err != nil {
			return err
		}
	}
	if err := s.backupManager.Start(); err != nil {
		s.Stop()
		return err
	}
	return nil
}

// Stop halts the background schedules.
func (s *Server) Stop() {
	if s.digest != nil {
		s.digest.Stop()
	}
	s.backupManager.Stop()
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// NotifyShutdown tells every connected chat client the server is going away.
func (s *Server) NotifyShutdown() {
	s.hub.Broadcast(ws.Message{Type: "shutdown", Text: shutdownNotice})
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	mux.HandleFunc("GET /api/events", s.rateLimited(s.eventH.List))
	mux.HandleFunc("POST /api/events", s.rateLimited(s.eventH.Create))
	mux.HandleFunc("DELETE /api/events", s.rateLimited(s.eventH.Clear))
	mux.HandleFunc("GET /calendar.ics", s.rateLimited(s.eventH.Calendar))

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.dispatcher, s.logger.With("component", "chat_ws")))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"backup":  s.backupManager.Status().State,
	})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	return middleware.RateLimit(s.rateLimiter, apiRateLimit, time.Minute)(h).ServeHTTP
}
