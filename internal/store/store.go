package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store exposes the canonical event, provider mapping, and run bookkeeping
// operations over a shared database handle. Methods accept a Queryable so
// callers can group reads and writes into one transaction.
type Store struct {
	db     *DB
	logger *slog.Logger
}

// New returns a Store over the given database.
func New(db *DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB returns the underlying database handle, for transaction scoping.
func (s *Store) DB() *DB {
	return s.db
}

// AmbiguityError is returned when more than one canonical event plausibly
// matches a candidate. The caller should skip the event and surface it for
// manual review rather than guess.
type AmbiguityError struct {
	ContentHash  string
	CandidateIDs []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous canonical match for content hash %s: %d candidates %v",
		e.ContentHash, len(e.CandidateIDs), e.CandidateIDs)
}

func newID() string {
	return uuid.NewString()
}

func utcNow() time.Time {
	return time.Now().UTC()
}
