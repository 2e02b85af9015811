// Package caldav implements the provider adapter for CalDAV back-ends
// (Apple iCloud and any standards-compliant CalDAV server).
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"orbitsync/internal/models"
	"orbitsync/internal/provider"
)

// DefaultEndpoint is used when the provider config carries no explicit URL.
const DefaultEndpoint = "https://caldav.icloud.com/"

// Event is a provider-native CalDAV event: one VEVENT component plus the
// resource metadata needed to address it on the server.
type Event struct {
	Path      string
	ETag      string
	Component *ical.Component
}

// Provider implements provider.NativeEvent.
func (*Event) Provider() models.ProviderType { return models.ProviderCalDAV }

// Payload is a CalDAV write payload: a full VCALENDAR wrapping one VEVENT.
type Payload struct {
	UID      string
	Calendar *ical.Calendar
}

// PayloadProvider implements provider.Payload.
func (*Payload) PayloadProvider() models.ProviderType { return models.ProviderCalDAV }

// authTransport adds Basic Auth and a User-Agent to every request.
type authTransport struct {
	username  string
	password  string
	transport http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	req.Header.Set("User-Agent", "orbitsync/1.0")
	return t.transport.RoundTrip(req)
}

// Adapter talks to one CalDAV calendar collection. Not safe for concurrent
// use; the engine creates one per directional run.
type Adapter struct {
	providerID   string
	logger       *slog.Logger
	endpoint     string
	calendarName string
	timezone     string

	caldavClient *caldav.Client
	webdavClient *webdav.Client
	calendarPath string

	// paths remembers where each UID listed during this run actually lives,
	// since servers are free to use resource names unrelated to the UID.
	paths map[string]string
}

// New builds a CalDAV adapter from provider config. Recognized keys:
// endpoint, username, password, calendar_name, timezone.
func New(providerID string, config map[string]string, logger *slog.Logger) (provider.Adapter, error) {
	username := config["username"]
	password := config["password"]
	if username == "" || password == "" {
		return nil, fmt.Errorf("caldav provider %s: username and password are required", providerID)
	}

	endpoint := strings.TrimSpace(config["endpoint"])
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	httpClient := &http.Client{
		Transport: &authTransport{
			username:  username,
			password:  password,
			transport: http.DefaultTransport,
		},
	}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("creating caldav client: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("creating webdav client: %w", err)
	}

	return &Adapter{
		providerID:   providerID,
		logger:       logger,
		endpoint:     endpoint,
		calendarName: config["calendar_name"],
		timezone:     config["timezone"],
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		paths:        make(map[string]string),
	}, nil
}

// Initialize discovers the configured calendar collection.
func (a *Adapter) Initialize(ctx context.Context) error {
	principal, err := a.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return fmt.Errorf("finding principal path: %w", err)
	}

	homeSet, err := a.caldavClient.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return fmt.Errorf("finding calendar home set: %w", err)
	}

	calendars, err := a.caldavClient.FindCalendars(ctx, homeSet)
	if err != nil {
		return fmt.Errorf("listing calendars: %w", err)
	}
	if len(calendars) == 0 {
		return fmt.Errorf("no calendars found for provider %s", a.providerID)
	}

	for _, cal := range calendars {
		if a.calendarName == "" || cal.Name == a.calendarName {
			a.calendarPath = cal.Path
			a.logger.Info("Found CalDAV calendar", "provider_id", a.providerID, "name", cal.Name, "path", cal.Path)
			return nil
		}
	}
	return fmt.Errorf("no calendar named %q on provider %s", a.calendarName, a.providerID)
}

// ListEvents queries the calendar for VEVENTs intersecting the window.
func (a *Adapter) ListEvents(ctx context.Context, start, end time.Time) ([]provider.NativeEvent, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objects, err := a.caldavClient.QueryCalendar(ctx, a.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("querying calendar %s: %w", a.calendarPath, err)
	}

	var events []provider.NativeEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, child := range obj.Data.Children {
			if child.Name != ical.CompEvent {
				continue
			}
			if uid, err := child.Props.Text(ical.PropUID); err == nil && uid != "" {
				a.paths[uid] = obj.Path
			}
			events = append(events, &Event{
				Path:      obj.Path,
				ETag:      obj.ETag,
				Component: child,
			})
		}
	}

	a.logger.Debug("Listed CalDAV events", "provider_id", a.providerID, "count", len(events))
	return events, nil
}

// CreateEvent writes a new calendar object named after the event UID.
func (a *Adapter) CreateEvent(ctx context.Context, payload provider.Payload) (provider.WriteResult, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return provider.WriteResult{}, fmt.Errorf("caldav adapter received %T payload", payload)
	}

	objPath := a.objectPath(p.UID)
	obj, err := a.caldavClient.PutCalendarObject(ctx, objPath, p.Calendar)
	if err != nil {
		return provider.WriteResult{}, fmt.Errorf("creating calendar object %s: %w", objPath, err)
	}

	a.paths[p.UID] = objPath
	result := provider.WriteResult{UID: p.UID}
	if obj != nil {
		result.Version = obj.ETag
	}
	return result, nil
}

// UpdateEvent overwrites the calendar object holding the given UID. The UID
// inside the payload must match; CalDAV identifies the record by it.
func (a *Adapter) UpdateEvent(ctx context.Context, uid string, payload provider.Payload) (provider.WriteResult, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return provider.WriteResult{}, fmt.Errorf("caldav adapter received %T payload", payload)
	}
	if p.UID != uid {
		return provider.WriteResult{}, fmt.Errorf("payload uid %q does not match update target %q", p.UID, uid)
	}

	objPath := a.objectPath(uid)
	obj, err := a.caldavClient.PutCalendarObject(ctx, objPath, p.Calendar)
	if err != nil {
		return provider.WriteResult{}, fmt.Errorf("updating calendar object %s: %w", objPath, err)
	}

	result := provider.WriteResult{UID: uid}
	if obj != nil {
		result.Version = obj.ETag
	}
	return result, nil
}

// DeleteEvent removes the calendar object holding the given UID.
func (a *Adapter) DeleteEvent(ctx context.Context, uid string) error {
	objPath := a.objectPath(uid)
	if err := a.webdavClient.RemoveAll(ctx, objPath); err != nil {
		return fmt.Errorf("deleting calendar object %s: %w", objPath, err)
	}
	delete(a.paths, uid)
	return nil
}

// Close implements provider.Adapter; CalDAV connections are stateless HTTP.
func (a *Adapter) Close() error { return nil }

// Timezone returns the configured timezone context, if any.
func (a *Adapter) Timezone() string { return a.timezone }

// objectPath returns the resource path for a UID, preferring the path the
// server reported during listing over the derived "<uid>.ics" convention.
func (a *Adapter) objectPath(uid string) string {
	if p, ok := a.paths[uid]; ok {
		return p
	}
	return path.Join(a.calendarPath, uid+".ics")
}
