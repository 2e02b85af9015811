package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbitsync/internal/models"
)

func newTestStore(t *testing.T) (*Store, *DB) {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, RunMigrations(db, logger))

	return New(db, logger), db
}

func testEvent(title string, start time.Time) *models.Event {
	return &models.Event{
		Title:   title,
		StartAt: start,
		EndAt:   start.Add(time.Hour),
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := st.CreateEvent(ctx, tx, testEvent("Doomed", time.Now().UTC())); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count))
	assert.Equal(t, 0, count, "rolled back insert must not persist")
}

func TestMigrations_Idempotent(t *testing.T) {
	_, db := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, RunMigrations(db, logger), "re-running migrations must be a no-op")
}
