package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContentHash_StableAcrossTimezones(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	ny, err := time.LoadLocation("America/New_York")
	assert.NoError(t, err)

	a := ContentHash("Dentist", start, end, "Downtown", "bring card")
	b := ContentHash("Dentist", start.In(ny), end.In(ny), "Downtown", "bring card")
	assert.Equal(t, a, b, "same instant in different zones must hash identically")
}

func TestContentHash_IgnoresSubSecondDrift(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	drifted := start.Add(500 * time.Millisecond)
	end := start.Add(time.Hour)

	assert.Equal(t,
		ContentHash("Standup", start, end, "", ""),
		ContentHash("Standup", drifted, end, "", ""))
}

func TestContentHash_TrimsFields(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	assert.Equal(t,
		ContentHash("Lunch", start, end, "Cafe", "notes"),
		ContentHash("  Lunch ", start, end, " Cafe", "notes "))
}

func TestContentHash_DiffersOnSemanticChange(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	base := ContentHash("Lunch", start, end, "Cafe", "")
	assert.NotEqual(t, base, ContentHash("Dinner", start, end, "Cafe", ""))
	assert.NotEqual(t, base, ContentHash("Lunch", start.Add(time.Minute), end, "Cafe", ""))
	assert.NotEqual(t, base, ContentHash("Lunch", start, end, "Bar", ""))
}

func TestRecomputeContentHash(t *testing.T) {
	e := &Event{
		Title:   "Review",
		StartAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	e.RecomputeContentHash()
	assert.Equal(t, ContentHash("Review", e.StartAt, e.EndAt, "", ""), e.ContentHash)

	e.Title = "Review v2"
	before := e.ContentHash
	e.RecomputeContentHash()
	assert.NotEqual(t, before, e.ContentHash)
}

func TestProviderMapping_HasUID(t *testing.T) {
	m := &ProviderMapping{
		ProviderUID:   "current",
		AlternateUIDs: []string{"old-1", "old-2"},
	}
	assert.True(t, m.HasUID("current"))
	assert.True(t, m.HasUID("old-2"))
	assert.False(t, m.HasUID("unknown"))
}
