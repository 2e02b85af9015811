package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Event is the canonical calendar event, the single source of truth a sync
// reconciles every provider against. It is independent of any specific
// calendar provider; provider-native records reference it through
// ProviderMapping rows.
type Event struct {
	ID          string
	Title       string
	StartAt     time.Time
	EndAt       time.Time
	Location    string
	Notes       string
	ContentHash string
	Tombstoned  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecomputeContentHash refreshes ContentHash from the current field values.
// Must be called after any mutation of the semantic fields.
func (e *Event) RecomputeContentHash() {
	e.ContentHash = ContentHash(e.Title, e.StartAt, e.EndAt, e.Location, e.Notes)
}

// ContentHash returns a deterministic fingerprint of an event's semantic
// fields, used for duplicate detection across providers. Timestamps are
// normalized to UTC at second precision so sub-second drift between providers
// does not change the hash.
func ContentHash(title string, start, end time.Time, location, notes string) string {
	content := fmt.Sprintf("%s|%s|%s|%s|%s",
		strings.TrimSpace(title),
		hashTime(start),
		hashTime(end),
		strings.TrimSpace(location),
		strings.TrimSpace(notes),
	)
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func hashTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
