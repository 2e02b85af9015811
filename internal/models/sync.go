package models

import (
	"fmt"
	"time"
)

// ProviderType identifies which adapter implementation talks to a provider.
type ProviderType string

const (
	ProviderCalDAV   ProviderType = "caldav"
	ProviderSkylight ProviderType = "skylight"
	ProviderGoogle   ProviderType = "google"
)

// SyncDirection controls how endpoint pairs are derived for a definition.
type SyncDirection string

const (
	DirectionBidirectional SyncDirection = "bidirectional"
	DirectionOneWay        SyncDirection = "one_way"
)

// EndpointRole describes how an endpoint participates in a sync.
type EndpointRole string

const (
	RolePrimary      EndpointRole = "primary"
	RoleSecondary    EndpointRole = "secondary"
	RoleOutboundOnly EndpointRole = "outbound_only"
)

// RunStatus is the final state of a directional sync run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusWarning RunStatus = "warning"
	RunStatusError   RunStatus = "error"
	RunStatusSkipped RunStatus = "skipped"
)

// ProviderMapping links a canonical event to one provider's native record.
// At most one non-tombstoned row exists per (provider_id, provider_uid), and a
// canonical event has at most one live mapping per provider.
type ProviderMapping struct {
	ID            string
	OrbitEventID  string
	ProviderID    string
	ProviderType  ProviderType
	ProviderUID   string
	ETagOrVersion string
	AlternateUIDs []string
	Tombstoned    bool
	LastSeenAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasUID reports whether uid is the mapping's current identifier or one of
// its recorded aliases.
func (m *ProviderMapping) HasUID(uid string) bool {
	if m.ProviderUID == uid {
		return true
	}
	for _, alias := range m.AlternateUIDs {
		if alias == uid {
			return true
		}
	}
	return false
}

// SyncEndpoint is one provider's membership in a sync definition.
type SyncEndpoint struct {
	ID           string            `json:"id"`
	ProviderID   string            `json:"provider_id"`
	ProviderType ProviderType      `json:"provider_type"`
	Role         EndpointRole      `json:"role"`
	Enabled      bool              `json:"enabled"`
	Config       map[string]string `json:"config"`
}

// Timezone returns the endpoint's configured timezone, if any.
func (e SyncEndpoint) Timezone() string {
	return e.Config["timezone"]
}

// SyncDefinition describes one configured synchronization between providers.
// Definitions are supplied by the caller; the engine does not own their
// storage.
type SyncDefinition struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Direction        SyncDirection  `json:"direction"`
	IntervalSeconds  int            `json:"interval_seconds"`
	Enabled          bool           `json:"enabled"`
	WindowDaysPast   int            `json:"window_days_past"`
	WindowDaysFuture int            `json:"window_days_future"`
	Endpoints        []SyncEndpoint `json:"endpoints"`
}

// RunStats aggregates per-event outcomes for one directional run.
type RunStats struct {
	Processed int `json:"events_processed"`
	Created   int `json:"events_created"`
	Updated   int `json:"events_updated"`
	Deleted   int `json:"events_deleted"`
	Errors    int `json:"errors"`
}

// SyncRun records one execution of one direction of a sync definition.
type SyncRun struct {
	ID           string
	SyncID       string
	Direction    string
	Status       RunStatus
	StartedAt    time.Time
	CompletedAt  time.Time
	Stats        RunStats
	ErrorMessage string
	Details      map[string]any
}

// SyncEventFlow is an audit record of one successful propagation of a
// canonical event from a source provider to a target provider.
type SyncEventFlow struct {
	ID               string
	SyncID           string
	SyncRunID        string
	OrbitEventID     string
	SourceProviderID string
	TargetProviderID string
	Direction        string
	OccurredAt       time.Time
}

// DirectionLabel renders the "source->target" label stored on runs and flows.
func DirectionLabel(sourceProviderID, targetProviderID string) string {
	return fmt.Sprintf("%s->%s", sourceProviderID, targetProviderID)
}

// DirectionSummary is the externally visible result of one directional run.
type DirectionSummary struct {
	RunID            string    `json:"run_id"`
	Status           RunStatus `json:"status"`
	Stats            RunStats  `json:"stats"`
	SourceProviderID string    `json:"source_provider_id"`
	TargetProviderID string    `json:"target_provider_id"`
	Error            string    `json:"error,omitempty"`
	Mode             string    `json:"mode"`
}

// RunSummary is the result of executing a full sync definition, consumed by
// external reporting layers.
type RunSummary struct {
	SyncID      string             `json:"sync_id"`
	Status      RunStatus          `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	WindowStart time.Time          `json:"window_start"`
	WindowEnd   time.Time          `json:"window_end"`
	Runs        []DirectionSummary `json:"runs"`
}
