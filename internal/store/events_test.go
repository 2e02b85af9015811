package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetEvent(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	event := testEvent("Planning", start)
	require.NoError(t, st.CreateEvent(ctx, db, event))
	assert.NotEmpty(t, event.ID)
	assert.NotEmpty(t, event.ContentHash)

	got, err := st.GetEvent(ctx, db, event.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Planning", got.Title)
	assert.True(t, got.StartAt.Equal(start))
	assert.False(t, got.Tombstoned)
}

func TestGetEvent_Missing(t *testing.T) {
	st, db := newTestStore(t)

	got, err := st.GetEvent(context.Background(), db, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApplyEventFields(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	event := testEvent("Planning", start)
	require.NoError(t, st.CreateEvent(ctx, db, event))
	originalHash := event.ContentHash

	changed, err := st.ApplyEventFields(ctx, db, event, "Planning v2", start, start.Add(time.Hour), "Room 2", "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, originalHash, event.ContentHash, "hash refreshes with the fields")

	changed, err = st.ApplyEventFields(ctx, db, event, "Planning v2", start, start.Add(time.Hour), "Room 2", "")
	require.NoError(t, err)
	assert.False(t, changed, "identical fields are a no-op")
}

func TestApplyEventFields_ZeroTimesPreserved(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	event := testEvent("Planning", start)
	require.NoError(t, st.CreateEvent(ctx, db, event))

	changed, err := st.ApplyEventFields(ctx, db, event, "Planning", time.Time{}, time.Time{}, "", "")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, event.StartAt.Equal(start), "zero candidate times never clobber stored ones")
}

func TestTombstoneEvent(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	event := testEvent("Cancelled thing", time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, st.CreateEvent(ctx, db, event))
	require.NoError(t, st.TombstoneEvent(ctx, db, event.ID))

	got, err := st.GetEvent(ctx, db, event.ID)
	require.NoError(t, err)
	assert.True(t, got.Tombstoned)
}

func TestFindMatchingEvent_WithinWindow(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	event := testEvent("Dentist", start)
	require.NoError(t, st.CreateEvent(ctx, db, event))

	got, err := st.FindMatchingEvent(ctx, db, "Dentist", start, start.Add(time.Hour), "", "", 120*time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, event.ID, got.ID)
}

func TestFindMatchingEvent_OutsideWindow(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateEvent(ctx, db, testEvent("Dentist", start)))

	got, err := st.FindMatchingEvent(ctx, db, "Dentist", start.Add(10*time.Minute),
		start.Add(70*time.Minute), "", "", 120*time.Second)
	require.NoError(t, err)
	assert.Nil(t, got, "same content 10 minutes later is a different event")
}

func TestFindMatchingEvent_IgnoresTombstoned(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	event := testEvent("Dentist", start)
	require.NoError(t, st.CreateEvent(ctx, db, event))
	require.NoError(t, st.TombstoneEvent(ctx, db, event.ID))

	got, err := st.FindMatchingEvent(ctx, db, "Dentist", start, start.Add(time.Hour), "", "", 120*time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindMatchingEvent_Ambiguous(t *testing.T) {
	st, db := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateEvent(ctx, db, testEvent("Dentist", start)))
	require.NoError(t, st.CreateEvent(ctx, db, testEvent("Dentist", start)))

	_, err := st.FindMatchingEvent(ctx, db, "Dentist", start, start.Add(time.Hour), "", "", 120*time.Second)
	var ambErr *AmbiguityError
	require.ErrorAs(t, err, &ambErr)
	assert.Len(t, ambErr.CandidateIDs, 2)
}

func TestFindMatchingEvent_SkipsEmptyCandidates(t *testing.T) {
	st, db := newTestStore(t)

	got, err := st.FindMatchingEvent(context.Background(), db, "", time.Time{}, time.Time{}, "", "", 120*time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}
