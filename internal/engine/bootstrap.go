package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"orbitsync/internal/convert"
	"orbitsync/internal/models"
	"orbitsync/internal/resolver"
	"orbitsync/internal/store"
)

// bootstrapObservation is one provider's view of one event during bootstrap.
type bootstrapObservation struct {
	endpoint  models.SyncEndpoint
	canonical *convert.Canonical
}

// runBootstrap reconciles pre-existing events across providers before the
// first normal pass. Events present on two or more providers with identical
// content are merged into one canonical record with one mapping per
// provider, so the first sync does not duplicate everything that was already
// mirrored by hand or by a previous tool.
//
// Buckets held by a single provider are left for the normal pass, which
// creates and propagates them with full conflict handling.
func (e *Engine) runBootstrap(ctx context.Context, def *models.SyncDefinition, endpoints []models.SyncEndpoint, windowStart, windowEnd time.Time) error {
	log := e.logger.With("sync_id", def.ID)
	log.Info("Running bootstrap reconciliation", "endpoints", len(endpoints))

	buckets := make(map[string][]bootstrapObservation)
	for _, ep := range endpoints {
		adapter, err := e.openAdapter(ctx, ep)
		if err != nil {
			return fmt.Errorf("initializing provider %s: %w", ep.ProviderID, err)
		}
		natives, err := adapter.ListEvents(ctx, windowStart, windowEnd)
		adapter.Close()
		if err != nil {
			return fmt.Errorf("listing events on provider %s: %w", ep.ProviderID, err)
		}

		for _, native := range natives {
			canonical, err := e.converter.FromNative(native)
			if err != nil {
				log.Debug("Ignoring unconvertible event during bootstrap",
					"provider_id", ep.ProviderID, "error", err)
				continue
			}
			if canonical.Deleted {
				continue
			}
			hash := canonical.ContentHash()
			buckets[hash] = append(buckets[hash], bootstrapObservation{endpoint: ep, canonical: canonical})
		}
	}

	merged := 0
	for hash, observations := range buckets {
		if countProviders(observations) < 2 {
			continue
		}
		if e.opts.DryRun {
			log.Info("Dry run: would merge duplicated event",
				"content_hash", hash, "observations", len(observations))
			continue
		}
		if err := e.mergeBucket(ctx, observations); err != nil {
			return fmt.Errorf("merging bucket %s: %w", hash, err)
		}
		merged++
	}

	if e.opts.DryRun {
		log.Info("Dry run: bootstrap flag left unset")
		return nil
	}

	if err := e.store.MarkBootstrapComplete(ctx, e.store.DB(), def.ID); err != nil {
		return err
	}
	log.Info("Bootstrap reconciliation complete", "buckets", len(buckets), "merged", merged)
	return nil
}

func countProviders(observations []bootstrapObservation) int {
	providers := make(map[string]bool)
	for _, o := range observations {
		providers[o.endpoint.ProviderID] = true
	}
	return len(providers)
}

// mergeBucket links every observation in a bucket to one canonical event,
// creating it from the winning observation when none exists yet.
func (e *Engine) mergeBucket(ctx context.Context, observations []bootstrapObservation) error {
	seed := observations[0]
	for _, o := range observations[1:] {
		winner := e.resolver.PickWinner(
			&resolver.Observation{ProviderID: seed.endpoint.ProviderID, ProviderType: seed.endpoint.ProviderType, Event: seed.canonical},
			&resolver.Observation{ProviderID: o.endpoint.ProviderID, ProviderType: o.endpoint.ProviderType, Event: o.canonical},
		)
		if winner.ProviderID == o.endpoint.ProviderID {
			seed = o
		}
	}

	return e.store.DB().Transaction(ctx, func(tx *sql.Tx) error {
		var event *models.Event

		// Prefer an event an existing mapping already points at, so repeated
		// bootstraps stay idempotent.
		for _, o := range observations {
			mapping, err := e.store.GetMapping(ctx, tx, o.endpoint.ProviderID, o.canonical.UID, o.canonical.Aliases...)
			if err != nil {
				return err
			}
			if mapping == nil {
				continue
			}
			event, err = e.store.GetEvent(ctx, tx, mapping.OrbitEventID)
			if err != nil {
				return err
			}
			if event != nil {
				break
			}
		}

		if event == nil {
			var err error
			event, err = e.store.FindMatchingEvent(ctx, tx, seed.canonical.Title,
				seed.canonical.Start, seed.canonical.End, seed.canonical.Location,
				seed.canonical.Notes, e.opts.dedupWindow())
			if err != nil {
				return err
			}
		}
		if event == nil {
			event = &models.Event{
				Title:    seed.canonical.Title,
				StartAt:  seed.canonical.Start.UTC(),
				EndAt:    seed.canonical.End.UTC(),
				Location: seed.canonical.Location,
				Notes:    seed.canonical.Notes,
			}
			if err := e.store.CreateEvent(ctx, tx, event); err != nil {
				return err
			}
		}

		for _, o := range observations {
			version := o.canonical.Version
			_, err := e.store.UpsertMapping(ctx, tx, store.UpsertMappingParams{
				ProviderID:    o.endpoint.ProviderID,
				ProviderType:  o.endpoint.ProviderType,
				ProviderUID:   o.canonical.UID,
				OrbitEventID:  event.ID,
				ETagOrVersion: &version,
				AlternateUIDs: o.canonical.Aliases,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
