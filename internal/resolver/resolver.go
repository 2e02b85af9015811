// Package resolver decides, for one canonical event observed on a source and
// a target provider, which side wins and what write (if any) the target
// needs. Decisions are timestamp-driven with a provider-priority tiebreak.
package resolver

import (
	"time"

	"orbitsync/internal/convert"
	"orbitsync/internal/models"
)

// Action is the write the target provider needs after resolution.
type Action int

const (
	ActionSkip Action = iota
	ActionCreate
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "skip"
	}
}

// Observation is one provider's current view of a canonical event. A nil
// Event with Deleted set means the provider no longer has the record.
type Observation struct {
	ProviderID   string
	ProviderType models.ProviderType
	Event        *convert.Canonical
	Deleted      bool
}

func (o *Observation) deleted() bool {
	if o == nil {
		return true
	}
	if o.Deleted {
		return true
	}
	return o.Event != nil && o.Event.Deleted
}

// DefaultThreshold is the modification-time distance beyond which the newer
// side wins outright.
const DefaultThreshold = 60 * time.Second

// DefaultTolerance is the slack allowed when comparing event times for
// equality, absorbing sub-minute drift between provider clocks.
const DefaultTolerance = 60 * time.Second

// Resolver applies the conflict rules. Zero durations fall back to the
// defaults; an empty priority list makes the source win all tiebreaks.
type Resolver struct {
	// Threshold separates a real edit from clock skew between providers.
	Threshold time.Duration
	// Tolerance is the equality slack for start and end comparisons.
	Tolerance time.Duration
	// Priority orders provider types from most to least authoritative.
	Priority []models.ProviderType
}

// New returns a Resolver with the given priority order and default timings.
func New(priority []models.ProviderType) *Resolver {
	return &Resolver{
		Threshold: DefaultThreshold,
		Tolerance: DefaultTolerance,
		Priority:  priority,
	}
}

// Resolve decides the target-side action for one event. source is the
// observation being propagated, target the corresponding observation on the
// destination provider (nil when the destination has never seen the event),
// and current the stored canonical record (nil when unknown).
func (r *Resolver) Resolve(source, target *Observation, current *models.Event) (Action, *Observation) {
	// A tombstoned canonical event is never resurrected.
	if current != nil && current.Tombstoned {
		return ActionSkip, nil
	}

	if source.deleted() {
		// Even when both sides are already gone, a live canonical record
		// still needs tombstoning.
		if target.deleted() && current == nil {
			return ActionSkip, nil
		}
		return ActionDelete, target
	}

	if target == nil || target.Event == nil {
		return ActionCreate, source
	}

	winner := r.PickWinner(source, target)
	if winner != source {
		return ActionSkip, winner
	}
	if !r.NeedsUpdate(source.Event, target.Event) {
		return ActionSkip, source
	}
	return ActionUpdate, source
}

// PickWinner compares the two observations' modification times. Beyond the
// threshold the newer side wins; within it the priority order decides.
func (r *Resolver) PickWinner(a, b *Observation) *Observation {
	at := lastUpdated(a.Event)
	bt := lastUpdated(b.Event)

	delta := at.Sub(bt)
	if delta < 0 {
		delta = -delta
	}
	if delta > r.threshold() {
		if at.After(bt) {
			return a
		}
		return b
	}

	if r.rank(a.ProviderType) <= r.rank(b.ProviderType) {
		return a
	}
	return b
}

// NeedsUpdate reports whether two canonical views differ on any semantic
// field, with time comparisons slack by the tolerance.
func (r *Resolver) NeedsUpdate(a, b *convert.Canonical) bool {
	if a.Title != b.Title || a.Location != b.Location || a.Notes != b.Notes {
		return true
	}
	if !timesClose(a.Start, b.Start, r.tolerance()) {
		return true
	}
	if !timesClose(a.End, b.End, r.tolerance()) {
		return true
	}
	return false
}

func (r *Resolver) threshold() time.Duration {
	if r.Threshold > 0 {
		return r.Threshold
	}
	return DefaultThreshold
}

func (r *Resolver) tolerance() time.Duration {
	if r.Tolerance > 0 {
		return r.Tolerance
	}
	return DefaultTolerance
}

func (r *Resolver) rank(t models.ProviderType) int {
	for i, p := range r.Priority {
		if p == t {
			return i
		}
	}
	return len(r.Priority)
}

// lastUpdated prefers the provider-reported modification time and falls back
// to the event start, which at least orders reschedules sensibly.
func lastUpdated(e *convert.Canonical) time.Time {
	if e == nil {
		return time.Time{}
	}
	if !e.UpdatedAt.IsZero() {
		return e.UpdatedAt
	}
	return e.Start
}

func timesClose(a, b time.Time, tolerance time.Duration) bool {
	if a.IsZero() != b.IsZero() {
		return false
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
