package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orbitsync/internal/models"
)

// StartRun inserts a new sync run in "running" state and returns its id.
func (s *Store) StartRun(ctx context.Context, q Queryable, syncID, direction string, details map[string]any) (string, error) {
	id := newID()
	detailsJSON, err := marshalDetails(details)
	if err != nil {
		return "", err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO sync_runs (id, sync_id, direction, status, started_at, details)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, syncID, direction, string(models.RunStatusRunning), utcNow(), detailsJSON)
	if err != nil {
		return "", fmt.Errorf("inserting sync run: %w", err)
	}
	return id, nil
}

// CompleteRun finalizes a run with its status, statistics, and error text.
func (s *Store) CompleteRun(ctx context.Context, q Queryable, runID string, status models.RunStatus, stats models.RunStats, errorMessage string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE sync_runs SET status = ?, completed_at = ?, events_processed = ?,
			events_created = ?, events_updated = ?, events_deleted = ?, errors = ?, error_message = ?
		WHERE id = ?`,
		string(status), utcNow(), stats.Processed, stats.Created, stats.Updated,
		stats.Deleted, stats.Errors, errorMessage, runID)
	if err != nil {
		return fmt.Errorf("completing sync run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync run %s not found", runID)
	}
	return nil
}

// GetRun returns a run by id, or nil.
func (s *Store) GetRun(ctx context.Context, q Queryable, runID string) (*models.SyncRun, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, sync_id, direction, status, started_at, completed_at,
			events_processed, events_created, events_updated, events_deleted, errors,
			error_message, details
		FROM sync_runs WHERE id = ?`, runID)

	var r models.SyncRun
	var status, detailsJSON string
	var completed sql.NullTime
	err := row.Scan(&r.ID, &r.SyncID, &r.Direction, &status, &r.StartedAt, &completed,
		&r.Stats.Processed, &r.Stats.Created, &r.Stats.Updated, &r.Stats.Deleted,
		&r.Stats.Errors, &r.ErrorMessage, &detailsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sync run: %w", err)
	}
	r.Status = models.RunStatus(status)
	if completed.Valid {
		r.CompletedAt = completed.Time
	}
	if detailsJSON != "" {
		if err := json.Unmarshal([]byte(detailsJSON), &r.Details); err != nil {
			return nil, fmt.Errorf("decoding run details: %w", err)
		}
	}
	return &r, nil
}

// CountRuns returns how many runs exist for a sync definition.
func (s *Store) CountRuns(ctx context.Context, q Queryable, syncID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs WHERE sync_id = ?`, syncID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting sync runs: %w", err)
	}
	return n, nil
}

// PruneRuns deletes the oldest runs of a definition beyond the retention
// count. Returns the number of rows removed.
func (s *Store) PruneRuns(ctx context.Context, q Queryable, syncID string, keep int) (int64, error) {
	res, err := q.ExecContext(ctx, `
		DELETE FROM sync_runs
		WHERE sync_id = ? AND id NOT IN (
			SELECT id FROM sync_runs WHERE sync_id = ?
			ORDER BY started_at DESC LIMIT ?
		)`, syncID, syncID, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning sync runs for %s: %w", syncID, err)
	}
	return res.RowsAffected()
}

// AppendFlow records a successful propagation of a canonical event for audit.
func (s *Store) AppendFlow(ctx context.Context, q Queryable, flow *models.SyncEventFlow) error {
	if flow.ID == "" {
		flow.ID = newID()
	}
	if flow.OccurredAt.IsZero() {
		flow.OccurredAt = utcNow()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_event_flows (id, sync_id, sync_run_id, orbit_event_id,
			source_provider_id, target_provider_id, direction, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		flow.ID, flow.SyncID, flow.SyncRunID, flow.OrbitEventID,
		flow.SourceProviderID, flow.TargetProviderID, flow.Direction, flow.OccurredAt)
	if err != nil {
		return fmt.Errorf("inserting sync event flow: %w", err)
	}
	return nil
}

// FlowsForEvent returns the propagation audit trail of a canonical event,
// newest first.
func (s *Store) FlowsForEvent(ctx context.Context, q Queryable, orbitEventID string) ([]*models.SyncEventFlow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sync_id, sync_run_id, orbit_event_id, source_provider_id,
			target_provider_id, direction, occurred_at
		FROM sync_event_flows WHERE orbit_event_id = ?
		ORDER BY occurred_at DESC`, orbitEventID)
	if err != nil {
		return nil, fmt.Errorf("querying event flows: %w", err)
	}
	defer rows.Close()

	var flows []*models.SyncEventFlow
	for rows.Next() {
		var f models.SyncEventFlow
		err := rows.Scan(&f.ID, &f.SyncID, &f.SyncRunID, &f.OrbitEventID,
			&f.SourceProviderID, &f.TargetProviderID, &f.Direction, &f.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("scanning event flow: %w", err)
		}
		flows = append(flows, &f)
	}
	return flows, rows.Err()
}

// BootstrapComplete reports whether bootstrap reconciliation has already run
// for the given sync definition.
func (s *Store) BootstrapComplete(ctx context.Context, q Queryable, syncID string) (bool, error) {
	var value string
	err := q.QueryRowContext(ctx,
		`SELECT value FROM config_items WHERE key = ?`, bootstrapKey(syncID)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading bootstrap flag: %w", err)
	}
	return true, nil
}

// MarkBootstrapComplete records bootstrap completion for a sync definition.
// Idempotent; the stored value is the completion timestamp.
func (s *Store) MarkBootstrapComplete(ctx context.Context, q Queryable, syncID string) error {
	now := utcNow()
	_, err := q.ExecContext(ctx, `
		INSERT INTO config_items (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		bootstrapKey(syncID), now.Format(time.RFC3339), now)
	if err != nil {
		return fmt.Errorf("writing bootstrap flag: %w", err)
	}
	return nil
}

// ClearBootstrapFlag removes the completion marker so the next run
// re-reconciles. Used by the reconcile mode.
func (s *Store) ClearBootstrapFlag(ctx context.Context, q Queryable, syncID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM config_items WHERE key = ?`, bootstrapKey(syncID))
	if err != nil {
		return fmt.Errorf("clearing bootstrap flag: %w", err)
	}
	return nil
}

func bootstrapKey(syncID string) string {
	return "sync_bootstrap_complete:" + syncID
}

func marshalDetails(details map[string]any) (string, error) {
	if details == nil {
		details = map[string]any{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("encoding run details: %w", err)
	}
	return string(data), nil
}
