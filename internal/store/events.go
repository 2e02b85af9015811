package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orbitsync/internal/models"
)

// CreateEvent inserts a canonical event, assigning its id, content hash, and
// timestamps.
func (s *Store) CreateEvent(ctx context.Context, q Queryable, event *models.Event) error {
	now := utcNow()
	if event.ID == "" {
		event.ID = newID()
	}
	event.CreatedAt = now
	event.UpdatedAt = now
	event.RecomputeContentHash()

	_, err := q.ExecContext(ctx, `
		INSERT INTO events (id, title, start_at, end_at, location, notes, content_hash, tombstoned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Title, event.StartAt.UTC(), event.EndAt.UTC(),
		event.Location, event.Notes, event.ContentHash, event.Tombstoned,
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting canonical event: %w", err)
	}
	return nil
}

// GetEvent returns the canonical event with the given id, or nil if absent.
func (s *Store) GetEvent(ctx context.Context, q Queryable, id string) (*models.Event, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, title, start_at, end_at, location, notes, content_hash, tombstoned, created_at, updated_at
		FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

// UpdateEvent writes the semantic fields of an existing canonical event and
// refreshes its content hash.
func (s *Store) UpdateEvent(ctx context.Context, q Queryable, event *models.Event) error {
	event.UpdatedAt = utcNow()
	event.RecomputeContentHash()

	res, err := q.ExecContext(ctx, `
		UPDATE events SET title = ?, start_at = ?, end_at = ?, location = ?, notes = ?,
			content_hash = ?, tombstoned = ?, updated_at = ?
		WHERE id = ?`,
		event.Title, event.StartAt.UTC(), event.EndAt.UTC(), event.Location, event.Notes,
		event.ContentHash, event.Tombstoned, event.UpdatedAt, event.ID,
	)
	if err != nil {
		return fmt.Errorf("updating canonical event %s: %w", event.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("canonical event %s not found", event.ID)
	}
	return nil
}

// ApplyEventFields copies changed semantic fields onto an existing event and
// persists it. Returns true if anything changed. Zero start/end values from
// the candidate never overwrite stored times.
func (s *Store) ApplyEventFields(ctx context.Context, q Queryable, event *models.Event, title string, start, end time.Time, location, notes string) (bool, error) {
	changed := false
	if title != event.Title {
		event.Title = title
		changed = true
	}
	if !start.IsZero() && !start.Equal(event.StartAt) {
		event.StartAt = start
		changed = true
	}
	if !end.IsZero() && !end.Equal(event.EndAt) {
		event.EndAt = end
		changed = true
	}
	if location != event.Location {
		event.Location = location
		changed = true
	}
	if notes != event.Notes {
		event.Notes = notes
		changed = true
	}
	if !changed {
		return false, nil
	}
	return true, s.UpdateEvent(ctx, q, event)
}

// TombstoneEvent soft-deletes a canonical event. Tombstoned events are kept
// for audit and to prevent resurrection, never hard-deleted.
func (s *Store) TombstoneEvent(ctx context.Context, q Queryable, id string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE events SET tombstoned = 1, updated_at = ? WHERE id = ?`, utcNow(), id)
	if err != nil {
		return fmt.Errorf("tombstoning canonical event %s: %w", id, err)
	}
	return nil
}

// FindMatchingEvent looks for an existing non-tombstoned canonical event with
// the same content hash and a start time within the dedup window. This
// catches the same real-world event independently authored on two providers
// with minor timestamp drift. If more than one candidate matches, an
// AmbiguityError is returned.
func (s *Store) FindMatchingEvent(ctx context.Context, q Queryable, title string, start, end time.Time, location, notes string, window time.Duration) (*models.Event, error) {
	if title == "" || start.IsZero() {
		return nil, nil
	}

	hash := models.ContentHash(title, start, end, location, notes)
	lower := start.UTC().Add(-window)
	upper := start.UTC().Add(window)

	rows, err := q.QueryContext(ctx, `
		SELECT id, title, start_at, end_at, location, notes, content_hash, tombstoned, created_at, updated_at
		FROM events
		WHERE content_hash = ? AND tombstoned = 0 AND start_at >= ? AND start_at <= ?
		ORDER BY updated_at DESC`,
		hash, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("querying matching events: %w", err)
	}
	defer rows.Close()

	var matches []*models.Event
	for rows.Next() {
		event, err := scanEventRows(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return nil, &AmbiguityError{ContentHash: hash, CandidateIDs: ids}
	}
}

func scanEvent(row *sql.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.Title, &e.StartAt, &e.EndAt, &e.Location, &e.Notes,
		&e.ContentHash, &e.Tombstoned, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning canonical event: %w", err)
	}
	return &e, nil
}

func scanEventRows(rows *sql.Rows) (*models.Event, error) {
	var e models.Event
	err := rows.Scan(&e.ID, &e.Title, &e.StartAt, &e.EndAt, &e.Location, &e.Notes,
		&e.ContentHash, &e.Tombstoned, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning canonical event: %w", err)
	}
	return &e, nil
}
