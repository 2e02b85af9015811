// Package engine orchestrates synchronization runs: fetching provider events,
// resolving them against the canonical store, and propagating the winning
// version to the other side of each direction.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"orbitsync/internal/convert"
	"orbitsync/internal/models"
	"orbitsync/internal/provider"
	"orbitsync/internal/resolver"
	"orbitsync/internal/store"
)

// Run modes. ModeReconcile clears the bootstrap marker first, forcing a fresh
// cross-provider reconciliation before the normal pass.
const (
	ModeRun       = "run"
	ModeReconcile = "reconcile"
)

const (
	defaultRunRetention     = 25
	defaultDedupWindow      = 120 * time.Second
	defaultMappingRetention = 30 * 24 * time.Hour
	defaultWindowPastDays   = 7
	defaultWindowFutureDays = 60
)

// Options tunes engine behavior. Zero values fall back to defaults.
type Options struct {
	// DryRun logs intended provider writes without performing them. The
	// canonical store is still not modified in dry-run mode.
	DryRun bool
	// RunRetention caps how many runs are kept per sync definition.
	RunRetention int
	// DedupWindow is the start-time tolerance for content-hash matching.
	DedupWindow time.Duration
	// MappingRetention is how long tombstoned mappings linger before pruning.
	MappingRetention time.Duration
}

func (o Options) runRetention() int {
	if o.RunRetention > 0 {
		return o.RunRetention
	}
	return defaultRunRetention
}

func (o Options) dedupWindow() time.Duration {
	if o.DedupWindow > 0 {
		return o.DedupWindow
	}
	return defaultDedupWindow
}

func (o Options) mappingRetention() time.Duration {
	if o.MappingRetention > 0 {
		return o.MappingRetention
	}
	return defaultMappingRetention
}

// Engine executes sync definitions against registered provider adapters.
type Engine struct {
	store     *store.Store
	registry  *provider.Registry
	converter *convert.Converter
	resolver  *resolver.Resolver
	logger    *slog.Logger
	opts      Options
}

// New assembles an engine.
func New(st *store.Store, registry *provider.Registry, converter *convert.Converter, res *resolver.Resolver, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		store:     st,
		registry:  registry,
		converter: converter,
		resolver:  res,
		logger:    logger,
		opts:      opts,
	}
}

// RunSync executes one full pass of a sync definition: bootstrap if needed,
// then every directional pair in order. The returned summary always reflects
// what happened; the error is reserved for failures before any direction
// could start.
func (e *Engine) RunSync(ctx context.Context, def *models.SyncDefinition, mode string) (*models.RunSummary, error) {
	summary := &models.RunSummary{SyncID: def.ID, Status: models.RunStatusSuccess}

	if !def.Enabled {
		summary.Status = models.RunStatusSkipped
		summary.Reason = "sync definition is disabled"
		return summary, nil
	}

	endpoints := enabledEndpoints(def)
	if len(endpoints) < 2 {
		summary.Status = models.RunStatusSkipped
		summary.Reason = "fewer than two enabled endpoints"
		return summary, nil
	}

	windowStart, windowEnd := e.window(def)
	summary.WindowStart = windowStart
	summary.WindowEnd = windowEnd

	db := e.store.DB()
	if mode == ModeReconcile {
		if err := e.store.ClearBootstrapFlag(ctx, db, def.ID); err != nil {
			return nil, err
		}
	}

	done, err := e.store.BootstrapComplete(ctx, db, def.ID)
	if err != nil {
		return nil, err
	}
	if !done {
		if err := e.runBootstrap(ctx, def, endpoints, windowStart, windowEnd); err != nil {
			return nil, fmt.Errorf("bootstrap reconciliation for sync %s: %w", def.ID, err)
		}
	}

	pairs := directionPairs(def, endpoints)
	if len(pairs) == 0 {
		summary.Status = models.RunStatusSkipped
		summary.Reason = "no eligible direction pairs"
		return summary, nil
	}

	// Directions run sequentially: a concurrent pair could observe the other
	// pair's writes mid-run and misread a fresh create as a source deletion.
	for _, pair := range pairs {
		result := e.runDirection(ctx, def, pair.source, pair.target, windowStart, windowEnd, mode)
		summary.Runs = append(summary.Runs, result)
		summary.Status = worseStatus(summary.Status, result.Status)
	}
	return summary, nil
}

type directionPair struct {
	source models.SyncEndpoint
	target models.SyncEndpoint
}

func enabledEndpoints(def *models.SyncDefinition) []models.SyncEndpoint {
	var out []models.SyncEndpoint
	for _, ep := range def.Endpoints {
		if ep.Enabled {
			out = append(out, ep)
		}
	}
	return out
}

// directionPairs derives the ordered (source, target) pairs for a definition.
// Outbound-only endpoints receive events but are never read as a source. In
// one-way mode only primary endpoints act as sources.
func directionPairs(def *models.SyncDefinition, endpoints []models.SyncEndpoint) []directionPair {
	var pairs []directionPair
	for _, src := range endpoints {
		if src.Role == models.RoleOutboundOnly {
			continue
		}
		if def.Direction == models.DirectionOneWay && src.Role != models.RolePrimary {
			continue
		}
		for _, tgt := range endpoints {
			if tgt.ProviderID == src.ProviderID {
				continue
			}
			pairs = append(pairs, directionPair{source: src, target: tgt})
		}
	}
	return pairs
}

func (e *Engine) window(def *models.SyncDefinition) (time.Time, time.Time) {
	past := def.WindowDaysPast
	if past <= 0 {
		past = defaultWindowPastDays
	}
	future := def.WindowDaysFuture
	if future <= 0 {
		future = defaultWindowFutureDays
	}
	now := time.Now().UTC()
	return now.AddDate(0, 0, -past), now.AddDate(0, 0, future)
}

// runDirection performs one source-to-target pass. It never returns an error;
// failures are folded into the direction summary and the persisted run.
func (e *Engine) runDirection(ctx context.Context, def *models.SyncDefinition, src, tgt models.SyncEndpoint, windowStart, windowEnd time.Time, mode string) models.DirectionSummary {
	direction := models.DirectionLabel(src.ProviderID, tgt.ProviderID)
	log := e.logger.With("sync_id", def.ID, "direction", direction)

	result := models.DirectionSummary{
		SourceProviderID: src.ProviderID,
		TargetProviderID: tgt.ProviderID,
		Mode:             mode,
	}

	db := e.store.DB()
	runID, err := e.store.StartRun(ctx, db, def.ID, direction, map[string]any{
		"mode":         mode,
		"dry_run":      e.opts.DryRun,
		"window_start": windowStart.Format(time.RFC3339),
		"window_end":   windowEnd.Format(time.RFC3339),
	})
	if err != nil {
		log.Error("Failed to start sync run", "error", err)
		result.Status = models.RunStatusError
		result.Error = err.Error()
		return result
	}
	result.RunID = runID

	var stats models.RunStats
	fail := func(err error) models.DirectionSummary {
		log.Error("Direction run aborted", "error", err)
		result.Status = models.RunStatusError
		result.Error = err.Error()
		result.Stats = stats
		if cerr := e.store.CompleteRun(ctx, db, runID, models.RunStatusError, stats, err.Error()); cerr != nil {
			log.Error("Failed to record run failure", "error", cerr)
		}
		return result
	}

	srcAdapter, err := e.openAdapter(ctx, src)
	if err != nil {
		return fail(&provider.InitError{ProviderID: src.ProviderID, Err: err})
	}
	defer srcAdapter.Close()

	tgtAdapter, err := e.openAdapter(ctx, tgt)
	if err != nil {
		return fail(&provider.InitError{ProviderID: tgt.ProviderID, Err: err})
	}
	defer tgtAdapter.Close()

	listedAt := time.Now().UTC()
	sourceNatives, err := srcAdapter.ListEvents(ctx, windowStart, windowEnd)
	if err != nil {
		return fail(&provider.FetchError{ProviderID: src.ProviderID, Err: err})
	}
	targetNatives, err := tgtAdapter.ListEvents(ctx, windowStart, windowEnd)
	if err != nil {
		return fail(&provider.FetchError{ProviderID: tgt.ProviderID, Err: err})
	}

	targetView := e.indexTarget(tgt, targetNatives, log)
	seen := make(map[string]bool)

	for _, native := range sourceNatives {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := e.processEvent(ctx, def, runID, src, tgt, tgtAdapter, native, targetView, seen, &stats); err != nil {
			stats.Errors++
			log.Warn("Event skipped", "error", err)
		}
		stats.Processed++
	}

	if err := e.reconcileDeletions(ctx, src, tgt, tgtAdapter, seen, listedAt, windowStart, windowEnd, &stats, log); err != nil {
		stats.Errors++
		log.Warn("Deletion reconciliation incomplete", "error", err)
	}

	if !e.opts.DryRun {
		cutoff := time.Now().UTC().Add(-e.opts.mappingRetention())
		if n, err := e.store.PruneStale(ctx, db, src.ProviderID, cutoff); err != nil {
			log.Warn("Failed to prune stale mappings", "error", err)
		} else if n > 0 {
			log.Debug("Pruned stale mappings", "provider_id", src.ProviderID, "count", n)
		}
	}

	status := models.RunStatusSuccess
	if stats.Errors > 0 {
		status = models.RunStatusWarning
	}
	if err := e.store.CompleteRun(ctx, db, runID, status, stats, ""); err != nil {
		log.Error("Failed to complete sync run", "error", err)
	}
	if _, err := e.store.PruneRuns(ctx, db, def.ID, e.opts.runRetention()); err != nil {
		log.Warn("Failed to prune old runs", "error", err)
	}

	log.Info("Direction run finished", "status", status,
		"processed", stats.Processed, "created", stats.Created,
		"updated", stats.Updated, "deleted", stats.Deleted, "errors", stats.Errors)

	result.Status = status
	result.Stats = stats
	return result
}

func (e *Engine) openAdapter(ctx context.Context, ep models.SyncEndpoint) (provider.Adapter, error) {
	adapter, err := e.registry.New(ep.ProviderType, ep.ProviderID, ep.Config, e.logger)
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(ctx); err != nil {
		adapter.Close()
		return nil, err
	}
	return adapter, nil
}

// targetIndex is the target provider's fetched view, addressable by native
// uid (including aliases) and by content hash.
type targetIndex struct {
	byUID  map[string]*convert.Canonical
	byHash map[string]*convert.Canonical
}

func (e *Engine) indexTarget(tgt models.SyncEndpoint, natives []provider.NativeEvent, log *slog.Logger) *targetIndex {
	idx := &targetIndex{
		byUID:  make(map[string]*convert.Canonical),
		byHash: make(map[string]*convert.Canonical),
	}
	for _, native := range natives {
		canonical, err := e.converter.FromNative(native)
		if err != nil {
			log.Debug("Ignoring unconvertible target event", "provider_id", tgt.ProviderID, "error", err)
			continue
		}
		idx.byUID[canonical.UID] = canonical
		for _, alias := range canonical.Aliases {
			if _, exists := idx.byUID[alias]; !exists {
				idx.byUID[alias] = canonical
			}
		}
		idx.byHash[canonical.ContentHash()] = canonical
	}
	return idx
}

// processEvent handles one source event end to end: identity resolution in a
// transaction, then conflict resolution and the target-side write.
func (e *Engine) processEvent(ctx context.Context, def *models.SyncDefinition, runID string, src, tgt models.SyncEndpoint, tgtAdapter provider.Adapter, native provider.NativeEvent, targetView *targetIndex, seen map[string]bool, stats *models.RunStats) error {
	canonical, err := e.converter.FromNative(native)
	if err != nil {
		return err
	}
	seen[canonical.UID] = true
	for _, alias := range canonical.Aliases {
		seen[alias] = true
	}

	db := e.store.DB()
	var event *models.Event
	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		event, err = e.resolveIdentity(ctx, tx, src, canonical)
		return err
	})
	if err != nil {
		return err
	}
	if event == nil || event.Tombstoned {
		// Either a dry-run encountered an unknown event, or the canonical
		// record is tombstoned and must not be resurrected.
		return nil
	}

	srcObs := &resolver.Observation{
		ProviderID:   src.ProviderID,
		ProviderType: src.ProviderType,
		Event:        canonical,
	}

	targetUID, err := e.store.GetProviderUID(ctx, db, tgt.ProviderID, event.ID)
	if err != nil {
		return err
	}

	var tgtObs *resolver.Observation
	if tgtCanonical := targetView.lookup(targetUID, canonical); tgtCanonical != nil {
		tgtObs = &resolver.Observation{
			ProviderID:   tgt.ProviderID,
			ProviderType: tgt.ProviderType,
			Event:        tgtCanonical,
		}
		// The target already holds this event without a recorded mapping
		// (matched by content). Adopt it instead of creating a duplicate.
		if targetUID == "" && !e.opts.DryRun {
			if err := e.adoptTargetEvent(ctx, tgt, tgtCanonical, event.ID); err != nil {
				return err
			}
			targetUID = tgtCanonical.UID
		}
	}

	action, winner := e.resolver.Resolve(srcObs, tgtObs, event)

	// The canonical record follows the winning observation, not whichever
	// side happened to be listed as the source.
	if action != resolver.ActionDelete && winner != nil && winner.Event != nil && !e.opts.DryRun {
		werr := db.Transaction(ctx, func(tx *sql.Tx) error {
			_, err := e.store.ApplyEventFields(ctx, tx, event, winner.Event.Title,
				winner.Event.Start.UTC(), winner.Event.End.UTC(), winner.Event.Location, winner.Event.Notes)
			return err
		})
		if werr != nil {
			return werr
		}
	}

	switch action {
	case resolver.ActionCreate:
		return e.createOnTarget(ctx, def, runID, src, tgt, tgtAdapter, canonical, event, stats)
	case resolver.ActionUpdate:
		return e.updateOnTarget(ctx, def, runID, src, tgt, tgtAdapter, canonical, event, targetUID, stats)
	case resolver.ActionDelete:
		return e.deleteOnTarget(ctx, tgt, tgtAdapter, event, targetUID, stats)
	default:
		return nil
	}
}

// resolveIdentity maps a source observation to a canonical event, creating
// one when nothing matches. Runs inside one transaction so concurrent
// direction runs cannot race to duplicate events or mappings.
func (e *Engine) resolveIdentity(ctx context.Context, tx *sql.Tx, src models.SyncEndpoint, canonical *convert.Canonical) (*models.Event, error) {
	mapping, err := e.store.GetMapping(ctx, tx, src.ProviderID, canonical.UID, canonical.Aliases...)
	if err != nil {
		return nil, err
	}

	var event *models.Event
	if mapping != nil {
		event, err = e.store.GetEvent(ctx, tx, mapping.OrbitEventID)
		if err != nil {
			return nil, err
		}
	}
	if event == nil {
		event, err = e.store.FindMatchingEvent(ctx, tx, canonical.Title, canonical.Start,
			canonical.End, canonical.Location, canonical.Notes, e.opts.dedupWindow())
		if err != nil {
			return nil, err
		}
	}

	if e.opts.DryRun {
		if event == nil {
			// Transient, unsaved record so the dry run can still report what
			// would happen downstream.
			event = &models.Event{
				Title:    canonical.Title,
				StartAt:  canonical.Start.UTC(),
				EndAt:    canonical.End.UTC(),
				Location: canonical.Location,
				Notes:    canonical.Notes,
			}
		}
		return event, nil
	}

	if event == nil {
		event = &models.Event{
			Title:    canonical.Title,
			StartAt:  canonical.Start.UTC(),
			EndAt:    canonical.End.UTC(),
			Location: canonical.Location,
			Notes:    canonical.Notes,
		}
		if err := e.store.CreateEvent(ctx, tx, event); err != nil {
			return nil, err
		}
	}

	version := canonical.Version
	_, err = e.store.UpsertMapping(ctx, tx, store.UpsertMappingParams{
		ProviderID:    src.ProviderID,
		ProviderType:  src.ProviderType,
		ProviderUID:   canonical.UID,
		OrbitEventID:  event.ID,
		ETagOrVersion: &version,
		AlternateUIDs: canonical.Aliases,
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (t *targetIndex) lookup(targetUID string, canonical *convert.Canonical) *convert.Canonical {
	if targetUID != "" {
		return t.byUID[targetUID]
	}
	return t.byHash[canonical.ContentHash()]
}

// adoptTargetEvent records a mapping for an event the target authored
// independently, linking it to the canonical record.
func (e *Engine) adoptTargetEvent(ctx context.Context, tgt models.SyncEndpoint, canonical *convert.Canonical, eventID string) error {
	version := canonical.Version
	return e.store.DB().Transaction(ctx, func(tx *sql.Tx) error {
		_, err := e.store.UpsertMapping(ctx, tx, store.UpsertMappingParams{
			ProviderID:    tgt.ProviderID,
			ProviderType:  tgt.ProviderType,
			ProviderUID:   canonical.UID,
			OrbitEventID:  eventID,
			ETagOrVersion: &version,
			AlternateUIDs: canonical.Aliases,
		})
		return err
	})
}

func (e *Engine) createOnTarget(ctx context.Context, def *models.SyncDefinition, runID string, src, tgt models.SyncEndpoint, tgtAdapter provider.Adapter, canonical *convert.Canonical, event *models.Event, stats *models.RunStats) error {
	payload, err := e.converter.ToNative(tgt.ProviderType, canonical, "", convert.Options{Timezone: tgt.Timezone()})
	if err != nil {
		return err
	}

	if e.opts.DryRun {
		e.logger.Info("Dry run: would create event on target",
			"provider_id", tgt.ProviderID, "title", event.Title, "orbit_event_id", event.ID)
		stats.Created++
		return nil
	}

	result, err := tgtAdapter.CreateEvent(ctx, payload)
	if err != nil {
		return &provider.WriteError{ProviderID: tgt.ProviderID, UID: canonical.UID, Op: "create", Err: err}
	}

	if err := e.recordPropagation(ctx, def, runID, src, tgt, event.ID, result); err != nil {
		return err
	}
	stats.Created++
	return nil
}

func (e *Engine) updateOnTarget(ctx context.Context, def *models.SyncDefinition, runID string, src, tgt models.SyncEndpoint, tgtAdapter provider.Adapter, canonical *convert.Canonical, event *models.Event, targetUID string, stats *models.RunStats) error {
	payload, err := e.converter.ToNative(tgt.ProviderType, canonical, targetUID, convert.Options{Timezone: tgt.Timezone()})
	if err != nil {
		return err
	}

	if e.opts.DryRun {
		e.logger.Info("Dry run: would update event on target",
			"provider_id", tgt.ProviderID, "uid", targetUID, "orbit_event_id", event.ID)
		stats.Updated++
		return nil
	}

	result, err := tgtAdapter.UpdateEvent(ctx, targetUID, payload)
	if err != nil {
		return &provider.WriteError{ProviderID: tgt.ProviderID, UID: targetUID, Op: "update", Err: err}
	}

	if err := e.recordPropagation(ctx, def, runID, src, tgt, event.ID, result); err != nil {
		return err
	}
	stats.Updated++
	return nil
}

func (e *Engine) deleteOnTarget(ctx context.Context, tgt models.SyncEndpoint, tgtAdapter provider.Adapter, event *models.Event, targetUID string, stats *models.RunStats) error {
	if e.opts.DryRun {
		e.logger.Info("Dry run: would delete event on target",
			"provider_id", tgt.ProviderID, "uid", targetUID, "orbit_event_id", event.ID)
		stats.Deleted++
		return nil
	}

	if targetUID != "" {
		if err := tgtAdapter.DeleteEvent(ctx, targetUID); err != nil {
			return &provider.WriteError{ProviderID: tgt.ProviderID, UID: targetUID, Op: "delete", Err: err}
		}
	}

	db := e.store.DB()
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := e.store.TombstoneEvent(ctx, tx, event.ID); err != nil {
			return err
		}
		mappings, err := e.store.MappingsForEvent(ctx, tx, event.ID)
		if err != nil {
			return err
		}
		for _, m := range mappings {
			if err := e.store.MarkTombstoned(ctx, tx, m.ProviderID, m.ProviderUID, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	stats.Deleted++
	return nil
}

// recordPropagation persists the target-side mapping and the audit flow for a
// successful write, in one transaction.
func (e *Engine) recordPropagation(ctx context.Context, def *models.SyncDefinition, runID string, src, tgt models.SyncEndpoint, eventID string, result provider.WriteResult) error {
	version := result.Version
	return e.store.DB().Transaction(ctx, func(tx *sql.Tx) error {
		_, err := e.store.UpsertMapping(ctx, tx, store.UpsertMappingParams{
			ProviderID:    tgt.ProviderID,
			ProviderType:  tgt.ProviderType,
			ProviderUID:   result.UID,
			OrbitEventID:  eventID,
			ETagOrVersion: &version,
		})
		if err != nil {
			return err
		}
		return e.store.AppendFlow(ctx, tx, &models.SyncEventFlow{
			SyncID:           def.ID,
			SyncRunID:        runID,
			OrbitEventID:     eventID,
			SourceProviderID: src.ProviderID,
			TargetProviderID: tgt.ProviderID,
			Direction:        models.DirectionLabel(src.ProviderID, tgt.ProviderID),
		})
	})
}

// reconcileDeletions handles events the source provider no longer returns:
// live source mappings whose event starts inside the window but whose uid was
// absent from the fetch mean the event was deleted at the source. Mappings
// written after the source listing was taken are ignored; a concurrent
// direction run may have created them, and their absence from the snapshot
// proves nothing.
func (e *Engine) reconcileDeletions(ctx context.Context, src, tgt models.SyncEndpoint, tgtAdapter provider.Adapter, seen map[string]bool, listedAt, windowStart, windowEnd time.Time, stats *models.RunStats, log *slog.Logger) error {
	db := e.store.DB()
	mappings, err := e.store.MappingsForProvider(ctx, db, src.ProviderID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, mapping := range mappings {
		if mapping.Tombstoned || mappingSeen(mapping, seen) {
			continue
		}
		if !mapping.LastSeenAt.Before(listedAt) {
			continue
		}

		event, err := e.store.GetEvent(ctx, db, mapping.OrbitEventID)
		if err != nil {
			firstErr = coalesce(firstErr, err)
			continue
		}
		if event == nil || event.Tombstoned {
			continue
		}
		if event.StartAt.Before(windowStart) || event.StartAt.After(windowEnd) {
			// Outside the fetch window its absence proves nothing.
			continue
		}

		log.Info("Source no longer has event, propagating deletion",
			"provider_id", src.ProviderID, "uid", mapping.ProviderUID, "title", event.Title)

		targetUID, err := e.store.GetProviderUID(ctx, db, tgt.ProviderID, event.ID)
		if err != nil {
			firstErr = coalesce(firstErr, err)
			continue
		}
		if err := e.deleteOnTarget(ctx, tgt, tgtAdapter, event, targetUID, stats); err != nil {
			firstErr = coalesce(firstErr, err)
		}
	}
	return firstErr
}

func mappingSeen(m *models.ProviderMapping, seen map[string]bool) bool {
	if seen[m.ProviderUID] {
		return true
	}
	for _, alias := range m.AlternateUIDs {
		if seen[alias] {
			return true
		}
	}
	return false
}

func coalesce(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

func worseStatus(a, b models.RunStatus) models.RunStatus {
	rank := func(s models.RunStatus) int {
		switch s {
		case models.RunStatusError:
			return 3
		case models.RunStatusWarning:
			return 2
		case models.RunStatusSuccess:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// CheckReadiness verifies that every enabled endpoint of every definition can
// be initialized. Returned map keys are provider ids; a nil value means the
// endpoint is reachable. Endpoints are probed concurrently.
func (e *Engine) CheckReadiness(ctx context.Context, defs []*models.SyncDefinition) map[string]error {
	results := make(map[string]error)
	var mu sync.Mutex
	var group errgroup.Group

	probed := make(map[string]bool)
	for _, def := range defs {
		for _, ep := range enabledEndpoints(def) {
			if probed[ep.ProviderID] {
				continue
			}
			probed[ep.ProviderID] = true

			group.Go(func() error {
				adapter, err := e.openAdapter(ctx, ep)
				if err == nil {
					adapter.Close()
				}
				mu.Lock()
				results[ep.ProviderID] = err
				mu.Unlock()
				return nil
			})
		}
	}
	group.Wait()
	return results
}

// IsPerEventError reports whether an error only affects a single event, as
// opposed to aborting the whole direction run.
func IsPerEventError(err error) bool {
	var writeErr *provider.WriteError
	var convErr *convert.ConversionError
	var valErr *convert.ValidationError
	var ambErr *store.AmbiguityError
	return errors.As(err, &writeErr) || errors.As(err, &convErr) ||
		errors.As(err, &valErr) || errors.As(err, &ambErr)
}
