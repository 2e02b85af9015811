// Package provider defines the uniform adapter contract every calendar
// back-end implementation must follow, plus the registry that resolves a
// provider type to its adapter factory.
package provider

import (
	"context"
	"time"

	"orbitsync/internal/models"
)

// NativeEvent is a provider-native event record. Each adapter package defines
// its own concrete type carrying the provider's raw shape; the converter
// type-switches on the concrete type rather than probing fields.
type NativeEvent interface {
	Provider() models.ProviderType
}

// Payload is a provider-native write payload produced by the converter.
// Adapters assert their own concrete payload type and reject anything else.
type Payload interface {
	PayloadProvider() models.ProviderType
}

// WriteResult is what an adapter reports after a successful create or update.
type WriteResult struct {
	// UID is the provider-native identifier of the written record. Required
	// on create; on update it echoes the identifier that was written.
	UID string
	// Version is an opaque change token (ETag, version counter) when the
	// provider exposes one.
	Version string
}

// Adapter is the uniform capability surface over one remote calendar
// back-end. Implementations are not safe for concurrent use; the engine
// instantiates one per direction-pair run and closes it afterward.
type Adapter interface {
	// Initialize establishes remote connections and validates configuration.
	Initialize(ctx context.Context) error
	// ListEvents returns provider-native events within the window.
	ListEvents(ctx context.Context, start, end time.Time) ([]NativeEvent, error)
	// CreateEvent creates an event and returns its native identifier.
	CreateEvent(ctx context.Context, payload Payload) (WriteResult, error)
	// UpdateEvent updates the event with the given native identifier.
	UpdateEvent(ctx context.Context, uid string, payload Payload) (WriteResult, error)
	// DeleteEvent removes the event with the given native identifier.
	DeleteEvent(ctx context.Context, uid string) error
	// Close releases any connections held by the adapter.
	Close() error
	// Timezone returns the provider's timezone context, or "" if unknown.
	Timezone() string
}
