package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"orbitsync/internal/convert"
	"orbitsync/internal/models"
)

var basetime = time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC)

func canonicalAt(updated time.Time) *convert.Canonical {
	return &convert.Canonical{
		Title:     "Team sync",
		Start:     basetime,
		End:       basetime.Add(time.Hour),
		UpdatedAt: updated,
	}
}

func obs(t models.ProviderType, e *convert.Canonical) *Observation {
	return &Observation{ProviderID: string(t) + "-1", ProviderType: t, Event: e}
}

func newResolver() *Resolver {
	return New([]models.ProviderType{models.ProviderCalDAV, models.ProviderGoogle, models.ProviderSkylight})
}

func TestResolve_CreateWhenTargetMissing(t *testing.T) {
	r := newResolver()
	source := obs(models.ProviderCalDAV, canonicalAt(basetime))

	action, winner := r.Resolve(source, nil, nil)
	assert.Equal(t, ActionCreate, action)
	assert.Equal(t, source, winner)
}

func TestResolve_NewerSourceWinsBeyondThreshold(t *testing.T) {
	r := newResolver()
	source := obs(models.ProviderSkylight, canonicalAt(basetime.Add(90*time.Second)))
	source.Event.Title = "Team sync (moved)"
	target := obs(models.ProviderCalDAV, canonicalAt(basetime))

	action, winner := r.Resolve(source, target, nil)
	assert.Equal(t, ActionUpdate, action)
	assert.Equal(t, source, winner)
}

func TestResolve_NewerTargetWinsBeyondThreshold(t *testing.T) {
	r := newResolver()
	source := obs(models.ProviderSkylight, canonicalAt(basetime))
	source.Event.Title = "Stale title"
	target := obs(models.ProviderCalDAV, canonicalAt(basetime.Add(2*time.Minute)))

	action, winner := r.Resolve(source, target, nil)
	assert.Equal(t, ActionSkip, action)
	assert.Equal(t, target, winner)
}

func TestResolve_PriorityBreaksTieWithinThreshold(t *testing.T) {
	r := newResolver()
	// 10 seconds apart is within the threshold, so priority decides.
	source := obs(models.ProviderSkylight, canonicalAt(basetime.Add(10*time.Second)))
	source.Event.Title = "Skylight edit"
	target := obs(models.ProviderCalDAV, canonicalAt(basetime))

	action, winner := r.Resolve(source, target, nil)
	assert.Equal(t, ActionSkip, action, "caldav outranks skylight inside the threshold")
	assert.Equal(t, target, winner)
}

func TestResolve_SourceOutranksTargetWithinThreshold(t *testing.T) {
	r := newResolver()
	source := obs(models.ProviderCalDAV, canonicalAt(basetime))
	source.Event.Title = "CalDAV edit"
	target := obs(models.ProviderSkylight, canonicalAt(basetime.Add(10*time.Second)))

	action, _ := r.Resolve(source, target, nil)
	assert.Equal(t, ActionUpdate, action)
}

func TestResolve_SkipWhenIdentical(t *testing.T) {
	r := newResolver()
	source := obs(models.ProviderCalDAV, canonicalAt(basetime.Add(5*time.Minute)))
	target := obs(models.ProviderSkylight, canonicalAt(basetime))

	action, _ := r.Resolve(source, target, nil)
	assert.Equal(t, ActionSkip, action, "winning source with no field changes needs no write")
}

func TestResolve_DeletedSourcePropagates(t *testing.T) {
	r := newResolver()
	source := obs(models.ProviderGoogle, canonicalAt(basetime))
	source.Deleted = true
	target := obs(models.ProviderCalDAV, canonicalAt(basetime))

	action, loser := r.Resolve(source, target, nil)
	assert.Equal(t, ActionDelete, action)
	assert.Equal(t, target, loser)
}

func TestResolve_BothDeletedWithoutRecordSkips(t *testing.T) {
	r := newResolver()
	source := obs(models.ProviderGoogle, canonicalAt(basetime))
	source.Deleted = true

	action, _ := r.Resolve(source, nil, nil)
	assert.Equal(t, ActionSkip, action)
}

func TestResolve_BothDeletedWithLiveRecordDeletes(t *testing.T) {
	r := newResolver()
	source := obs(models.ProviderGoogle, canonicalAt(basetime))
	source.Deleted = true
	current := &models.Event{ID: "evt-1"}

	action, _ := r.Resolve(source, nil, current)
	assert.Equal(t, ActionDelete, action, "a live canonical record still needs tombstoning")
}

func TestResolve_TombstonedCanonicalNeverResurrected(t *testing.T) {
	r := newResolver()
	source := obs(models.ProviderCalDAV, canonicalAt(basetime.Add(time.Hour)))
	current := &models.Event{ID: "evt-1", Tombstoned: true}

	action, _ := r.Resolve(source, nil, current)
	assert.Equal(t, ActionSkip, action)
}

func TestNeedsUpdate_TimeTolerance(t *testing.T) {
	r := newResolver()
	a := canonicalAt(basetime)
	b := canonicalAt(basetime)

	b.Start = a.Start.Add(30 * time.Second)
	assert.False(t, r.NeedsUpdate(a, b), "sub-minute drift is not a real change")

	b.Start = a.Start.Add(5 * time.Minute)
	assert.True(t, r.NeedsUpdate(a, b))
}

func TestNeedsUpdate_FieldChanges(t *testing.T) {
	r := newResolver()
	a := canonicalAt(basetime)
	b := canonicalAt(basetime)
	assert.False(t, r.NeedsUpdate(a, b))

	b.Location = "Room 4"
	assert.True(t, r.NeedsUpdate(a, b))
}

func TestLastUpdated_FallsBackToStart(t *testing.T) {
	e := canonicalAt(time.Time{})
	assert.Equal(t, e.Start, lastUpdated(e), "events without modification metadata order by start")
}

func TestPickWinner_UnknownProviderRanksLast(t *testing.T) {
	r := New([]models.ProviderType{models.ProviderCalDAV})
	a := obs(models.ProviderCalDAV, canonicalAt(basetime))
	b := obs(models.ProviderType("other"), canonicalAt(basetime))

	assert.Equal(t, a, r.PickWinner(a, b))
	assert.Equal(t, a, r.PickWinner(b, a))
}
