// Package reminder pushes a morning agenda to connected chat clients.
package reminder

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/eventecho/internal/chat"
	"github.com/dukerupert/eventecho/internal/model"
	ws "github.com/dukerupert/eventecho/internal/websocket"
)

// EventSource is the event data the digest reads.
type EventSource interface {
	Today() string
	OwnersWithEventsOn(date string) ([]string, error)
	ListUpcoming(ownerKey string) []model.Event
}

// Notifier delivers messages to an owner's live chat clients.
type Notifier interface {
	Connected(owner string) bool
	SendTo(owner string, msg ws.Message) int
}

// Scheduler runs the digest on a cron schedule.
type Scheduler struct {
	mu       sync.Mutex
	events   EventSource
	notifier Notifier
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewScheduler creates a digest scheduler. schedule is a five-field cron
// expression.
func NewScheduler(events EventSource, notifier Notifier, schedule string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		events:   events,
		notifier: notifier,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the digest job and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("digest schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("digest scheduler started", "schedule", s.schedule)
	return nil
}

// Stop halts the cron runner and waits for a running digest to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce sends today's agenda to every connected owner with events today
// and returns how many owners were notified.
func (s *Scheduler) RunOnce() int {
	today := s.events.Today()

	owners, err := s.events.OwnersWithEventsOn(today)
	if err != nil {
		s.logger.Error("digest: list owners", "date", today, "error", err)
		return 0
	}

	notified := 0
	for _, owner := range owners {
		if !s.notifier.Connected(owner) {
			continue
		}

		var todays []model.Event
		for _, e := range s.events.ListUpcoming(owner) {
			if e.Date == today {
				todays = append(todays, e)
			}
		}
		if len(todays) == 0 {
			continue
		}

		msg := ws.Message{Type: "digest", Text: chat.FormatEvents("Good morning! Today:", todays)}
		if s.notifier.SendTo(owner, msg) > 0 {
			notified++
		}
	}

	s.logger.Info("digest sent", "date", today, "owners", notified)
	return notified
}
