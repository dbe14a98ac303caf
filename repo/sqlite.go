// Package repo persists events and RSVPs in SQLite.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"tomorrowbot/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	organizer_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	type TEXT NOT NULL,
	time TEXT NOT NULL,
	location TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rsvp (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	responder_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(event_id, responder_id)
);
`

// Store is the SQLite-backed event store.
type Store struct {
	db *sqlx.DB
}

// Timestamps are stored as UTC Unix milliseconds.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// eventRow and rsvpRow mirror the table layout; timestamps come back as
// integers and are converted at the edge.
type eventRow struct {
	ID          int64  `db:"id"`
	OrganizerID int64  `db:"organizer_id"`
	Title       string `db:"title"`
	Type        string `db:"type"`
	Time        string `db:"time"`
	Location    string `db:"location"`
	CreatedAt   int64  `db:"created_at"`
}

func (r eventRow) toModel() model.Event {
	return model.Event{
		ID:          r.ID,
		OrganizerID: r.OrganizerID,
		Title:       r.Title,
		Type:        r.Type,
		Time:        r.Time,
		Location:    r.Location,
		CreatedAt:   fromMillis(r.CreatedAt),
	}
}

type rsvpRow struct {
	ID          int64  `db:"id"`
	EventID     int64  `db:"event_id"`
	ResponderID int64  `db:"responder_id"`
	Status      string `db:"status"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (r rsvpRow) toModel() model.RSVP {
	return model.RSVP{
		ID:          r.ID,
		EventID:     r.EventID,
		ResponderID: r.ResponderID,
		Status:      model.Status(r.Status),
		UpdatedAt:   fromMillis(r.UpdatedAt),
	}
}

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists. Foreign keys must be on for RSVP cascade deletes.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateEvent inserts a fully populated event and returns its id.
func (s *Store) CreateEvent(ctx context.Context, organizerID int64, title, eventType, eventTime, location string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (organizer_id, title, type, time, location, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		organizerID, title, eventType, eventTime, location, toMillis(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create event id: %w", err)
	}
	return id, nil
}

// GetEvent returns the event with the given id, or model.ErrEventNotFound.
func (s *Store) GetEvent(ctx context.Context, eventID int64) (model.Event, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, organizer_id, title, type, time, location, created_at
		 FROM events WHERE id = ?`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, model.ErrEventNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return row.toModel(), nil
}

// DeleteEvent removes the event only when requesterID is its organizer and
// reports whether a row was deleted. RSVPs go with it via the cascade.
func (s *Store) DeleteEvent(ctx context.Context, eventID, requesterID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE id = ? AND organizer_id = ?`, eventID, requesterID)
	if err != nil {
		return false, fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete event rows: %w", err)
	}
	return n > 0, nil
}

// ListEventsByUser returns the user's events, newest created first.
func (s *Store) ListEventsByUser(ctx context.Context, organizerID int64) ([]model.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, organizer_id, title, type, time, location, created_at
		 FROM events WHERE organizer_id = ?
		 ORDER BY created_at DESC, id DESC`, organizerID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events, nil
}

// UpsertRSVP records a responder's status for an event. The unique key on
// (event_id, responder_id) makes concurrent upserts collapse into a single
// row, last writer wins.
func (s *Store) UpsertRSVP(ctx context.Context, eventID, responderID int64, status model.Status) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rsvp (event_id, responder_id, status, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(event_id, responder_id)
		 DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		eventID, responderID, string(status), toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert rsvp: %w", err)
	}
	return nil
}

// GetRSVP returns the responder's RSVP for an event, or model.ErrRSVPNotFound.
func (s *Store) GetRSVP(ctx context.Context, eventID, responderID int64) (model.RSVP, error) {
	var row rsvpRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, event_id, responder_id, status, updated_at
		 FROM rsvp WHERE event_id = ? AND responder_id = ?`, eventID, responderID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RSVP{}, model.ErrRSVPNotFound
	}
	if err != nil {
		return model.RSVP{}, fmt.Errorf("get rsvp: %w", err)
	}
	return row.toModel(), nil
}

// RSVPCounts tallies responses for an event. Statuses nobody picked are zero.
func (s *Store) RSVPCounts(ctx context.Context, eventID int64) (model.Counts, error) {
	var rows []struct {
		Status string `db:"status"`
		Total  int    `db:"total"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS total FROM rsvp WHERE event_id = ? GROUP BY status`, eventID)
	if err != nil {
		return model.Counts{}, fmt.Errorf("rsvp counts: %w", err)
	}
	var counts model.Counts
	for _, row := range rows {
		switch model.Status(strings.ToLower(row.Status)) {
		case model.StatusYes:
			counts.Yes = row.Total
		case model.StatusNo:
			counts.No = row.Total
		case model.StatusMaybe:
			counts.Maybe = row.Total
		}
	}
	return counts, nil
}
