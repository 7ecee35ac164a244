package database

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukerupert/eventecho/internal/store"
)

func TestOpenExistingDatabaseKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	clock := func() time.Time { return time.Date(2025, 7, 1, 9, 0, 0, 0, time.Local) }

	db, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	es := store.NewEventStore(db, slog.Default())
	es.SetClock(clock)
	at := "19:00"
	first, err := es.Create("@alice", "Dinner", "2025-07-04", &at)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening runs migrations again against the populated file.
	for i := 0; i < 2; i++ {
		db, err = Open(path)
		if err != nil {
			t.Fatalf("reopen %d: %v", i+1, err)
		}
		if i == 0 {
			db.Close()
		}
	}
	defer db.Close()

	es = store.NewEventStore(db, slog.Default())
	es.SetClock(clock)

	events := es.ListUpcoming("@alice")
	if len(events) != 1 || events[0].ID != first || events[0].Description != "Dinner" {
		t.Fatalf("events after reopen = %+v, want the original Dinner event", events)
	}

	next, err := es.Create("@alice", "Lunch", "2025-07-05", nil)
	if err != nil {
		t.Fatalf("create after reopen: %v", err)
	}
	if next != first+1 {
		t.Errorf("next id = %d, want %d", next, first+1)
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"events", "backups"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestOpenBadPath(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "events.db")); err == nil {
		t.Error("expected an error for a path in a missing directory")
	}
}
