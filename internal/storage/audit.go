package storage

import (
	"context"
	"time"
)

// Audit event kinds.
const (
	EventAttach  = "attach"   // successful attach request (token minted)
	EventCreate  = "create"   // new session window spawned
	EventKill    = "kill"     // window killed via the API
	EventKillAll = "kill_all" // bulk kill via the API
	EventWSOpen  = "ws_open"  // terminal WebSocket bound
	EventWSClose = "ws_close" // terminal WebSocket released
)

// Event is one audit row.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordEvent appends one audit row. The timestamp is bound explicitly so
// inserts and range queries use the driver's one time encoding.
func (s *Store) RecordEvent(ctx context.Context, sessionID, event, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attach_events (session_id, event, detail, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, event, detail, time.Now().UTC())
	return err
}

// RecentEvents returns the newest limit rows for a session, newest first.
// An empty sessionID returns events across all sessions.
func (s *Store) RecentEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, session_id, event, detail, created_at
	          FROM attach_events`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneBefore deletes audit rows older than cutoff and reports how many
// were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attach_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
