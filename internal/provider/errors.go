package provider

import "fmt"

// InitError indicates an adapter could not initialize. It is fatal to the
// directional run that needed the adapter.
type InitError struct {
	ProviderID string
	Err        error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initializing adapter for provider %s: %v", e.ProviderID, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// FetchError indicates the source event listing failed. It is fatal to the
// directional run.
type FetchError struct {
	ProviderID string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching events from provider %s: %v", e.ProviderID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// WriteError indicates a create, update, or delete against a provider failed.
// It is recorded per event; the run continues.
type WriteError struct {
	ProviderID string
	UID        string
	Op         string
	Err        error
}

func (e *WriteError) Error() string {
	if e.UID != "" {
		return fmt.Sprintf("%s event %s on provider %s: %v", e.Op, e.UID, e.ProviderID, e.Err)
	}
	return fmt.Sprintf("%s event on provider %s: %v", e.Op, e.ProviderID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
