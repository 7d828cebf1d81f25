package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

const testID = "11111111-2222-4333-8444-555555555555"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordEvent(ctx, testID, EventAttach, "existed=true"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordEvent(ctx, testID, EventWSOpen, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordEvent(ctx, "other-session", EventKill, ""); err != nil {
		t.Fatal(err)
	}

	events, err := s.RecentEvents(ctx, testID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	// Newest first.
	if events[0].Event != EventWSOpen || events[1].Event != EventAttach {
		t.Errorf("events out of order: %s, %s", events[0].Event, events[1].Event)
	}
	if events[1].Detail != "existed=true" {
		t.Errorf("detail = %q", events[1].Detail)
	}

	all, err := s.RecentEvents(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("got %d events across sessions, want 3", len(all))
	}
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordEvent(ctx, testID, EventAttach, ""); err != nil {
		t.Fatal(err)
	}

	// Nothing is older than an hour ago.
	n, err := s.PruneBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("pruned %d rows, want 0", n)
	}

	// Everything is older than an hour from now.
	n, err = s.PruneBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}
}

func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open with missing parents: %v", err)
	}
	s.Close()
}
