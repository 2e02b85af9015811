// Package google implements the provider adapter for Google Calendar.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/oauth2"
	googleauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"orbitsync/internal/models"
	"orbitsync/internal/provider"
)

// Event is a provider-native Google Calendar event.
type Event struct {
	Raw *calendar.Event
}

// Provider implements provider.NativeEvent.
func (*Event) Provider() models.ProviderType { return models.ProviderGoogle }

// Payload is a Google Calendar write payload.
type Payload struct {
	Raw *calendar.Event
}

// PayloadProvider implements provider.Payload.
func (*Payload) PayloadProvider() models.ProviderType { return models.ProviderGoogle }

// Adapter talks to one Google Calendar. Not safe for concurrent use.
type Adapter struct {
	providerID   string
	logger       *slog.Logger
	clientID     string
	clientSecret string
	tokenFile    string
	calendarID   string
	timezone     string

	service *calendar.Service
}

// New builds a Google Calendar adapter from provider config. Recognized keys:
// client_id, client_secret, token_file, calendar_id, timezone.
func New(providerID string, config map[string]string, logger *slog.Logger) (provider.Adapter, error) {
	if config["client_id"] == "" || config["client_secret"] == "" {
		return nil, fmt.Errorf("google provider %s: client_id and client_secret are required", providerID)
	}
	if config["token_file"] == "" {
		return nil, fmt.Errorf("google provider %s: token_file is required", providerID)
	}

	calendarID := config["calendar_id"]
	if calendarID == "" {
		calendarID = "primary"
	}

	return &Adapter{
		providerID:   providerID,
		logger:       logger,
		clientID:     config["client_id"],
		clientSecret: config["client_secret"],
		tokenFile:    config["token_file"],
		calendarID:   calendarID,
		timezone:     config["timezone"],
	}, nil
}

// Initialize loads the stored OAuth token and builds the calendar service.
func (a *Adapter) Initialize(ctx context.Context) error {
	token, err := tokenFromFile(a.tokenFile)
	if err != nil {
		return fmt.Errorf("loading token from %s: %w", a.tokenFile, err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		Scopes:       []string{calendar.CalendarScope},
		Endpoint:     googleauth.Endpoint,
	}

	client := oauthConfig.Client(ctx, token)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return fmt.Errorf("creating calendar service: %w", err)
	}
	a.service = service
	return nil
}

// ListEvents fetches single (non-recurring-expanded) events in the window.
func (a *Adapter) ListEvents(ctx context.Context, start, end time.Time) ([]provider.NativeEvent, error) {
	result, err := a.service.Events.List(a.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(start.UTC().Format(time.RFC3339)).
		TimeMax(end.UTC().Format(time.RFC3339)).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("listing events for calendar %s: %w", a.calendarID, err)
	}

	events := make([]provider.NativeEvent, 0, len(result.Items))
	for _, item := range result.Items {
		events = append(events, &Event{Raw: item})
	}
	a.logger.Debug("Listed Google events", "provider_id", a.providerID, "count", len(events))
	return events, nil
}

// CreateEvent inserts an event and returns its Google id and etag.
func (a *Adapter) CreateEvent(ctx context.Context, payload provider.Payload) (provider.WriteResult, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return provider.WriteResult{}, fmt.Errorf("google adapter received %T payload", payload)
	}

	created, err := a.service.Events.Insert(a.calendarID, p.Raw).Context(ctx).Do()
	if err != nil {
		return provider.WriteResult{}, fmt.Errorf("inserting event: %w", err)
	}
	return provider.WriteResult{UID: created.Id, Version: created.Etag}, nil
}

// UpdateEvent replaces the event with the given Google id.
func (a *Adapter) UpdateEvent(ctx context.Context, uid string, payload provider.Payload) (provider.WriteResult, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return provider.WriteResult{}, fmt.Errorf("google adapter received %T payload", payload)
	}

	updated, err := a.service.Events.Update(a.calendarID, uid, p.Raw).Context(ctx).Do()
	if err != nil {
		return provider.WriteResult{}, fmt.Errorf("updating event %s: %w", uid, err)
	}
	return provider.WriteResult{UID: updated.Id, Version: updated.Etag}, nil
}

// DeleteEvent removes the event with the given Google id.
func (a *Adapter) DeleteEvent(ctx context.Context, uid string) error {
	if err := a.service.Events.Delete(a.calendarID, uid).Context(ctx).Do(); err != nil {
		return fmt.Errorf("deleting event %s: %w", uid, err)
	}
	return nil
}

// Close implements provider.Adapter.
func (a *Adapter) Close() error { return nil }

// Timezone returns the configured timezone context, if any.
func (a *Adapter) Timezone() string { return a.timezone }

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}
	return token, nil
}
