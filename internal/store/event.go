package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/eventecho/internal/model"
)

// ErrStorageFailure marks errors where the backing database could not
// complete an operation. The caller must not assume anything was stored.
var ErrStorageFailure = errors.New("storage failure")

const dateLayout = "2006-01-02"

// EventStore is the per-owner collection of events. Safe for concurrent use.
type EventStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewEventStore(db *sql.DB, logger *slog.Logger) *EventStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStore{db: db, logger: logger, now: time.Now}
}

// SetClock replaces the wall clock used to decide what "today" is.
func (s *EventStore) SetClock(now func() time.Time) {
	s.now = now
}

// Today returns the current date in the store's local date context.
func (s *EventStore) Today() string {
	return s.now().Format(dateLayout)
}

// Create stores a new event and returns its id. Input is stored as given;
// validating dates and times is the caller's job.
func (s *EventStore) Create(ownerKey, description, date string, eventTime *string) (int64, error) {
	var t sql.NullString
	if eventTime != nil {
		t = sql.NullString{String: *eventTime, Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO events (owner_key, description, date, time) VALUES (?, ?, ?, ?)`,
		ownerKey, description, date, t,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert event: %w", ErrStorageFailure, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert id: %w", ErrStorageFailure, err)
	}

	s.logger.Info("event added", "id", id, "owner", ownerKey)
	return id, nil
}

// Upcoming returns the owner's events dated today or later. Events without
// a time sort ahead of timed events on the same date.
func (s *EventStore) Upcoming(ownerKey string) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_key, description, date, time
		 FROM events
		 WHERE owner_key = ? AND date >= ?
		 ORDER BY date ASC, time IS NOT NULL, time ASC, id ASC`,
		ownerKey, s.Today(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query upcoming events: %w", ErrStorageFailure, err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var e model.Event
		var t sql.NullString
		if err := rows.Scan(&e.ID, &e.OwnerKey, &e.Description, &e.Date, &t); err != nil {
			return nil, fmt.Errorf("%w: scan event: %w", ErrStorageFailure, err)
		}
		if t.Valid {
			e.Time = &t.String
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %w", ErrStorageFailure, err)
	}
	return events, nil
}

// ListUpcoming is the fail-soft form of Upcoming: a storage error is logged
// and an empty slice is returned.
func (s *EventStore) ListUpcoming(ownerKey string) []model.Event {
	events, err := s.Upcoming(ownerKey)
	if err != nil {
		s.logger.Error("list upcoming events", "op", "list_upcoming", "owner", ownerKey, "error", err)
		return []model.Event{}
	}
	return events
}

// DeleteAll removes every event belonging to the owner and returns how many
// rows went away.
func (s *EventStore) DeleteAll(ownerKey string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM events WHERE owner_key = ?`, ownerKey)
	if err != nil {
		return 0, fmt.Errorf("%w: delete events: %w", ErrStorageFailure, err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %w", ErrStorageFailure, err)
	}

	s.logger.Info("events cleared", "owner", ownerKey, "count", count)
	return count, nil
}

// ClearAll is the fail-soft form of DeleteAll. Deleting nothing is a
// success; only a storage error yields false.
func (s *EventStore) ClearAll(ownerKey string) bool {
	if _, err := s.DeleteAll(ownerKey); err != nil {
		s.logger.Error("clear events", "op", "clear_all", "owner", ownerKey, "error", err)
		return false
	}
	return true
}

// Count returns how many events the owner has, past ones included.
func (s *EventStore) Count(ownerKey string) (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE owner_key = ?`, ownerKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count events: %w", ErrStorageFailure, err)
	}
	return count, nil
}

// OwnersWithEventsOn lists the distinct owners that have at least one event
// on the given date.
func (s *EventStore) OwnersWithEventsOn(date string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT owner_key FROM events WHERE date = ? ORDER BY owner_key`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query owners: %w", ErrStorageFailure, err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("%w: scan owner: %w", ErrStorageFailure, err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}
