// Package convert translates between provider-native event shapes and the
// canonical event shape, in both directions. Each provider variant has its
// own conversion function; the dispatch is a type switch on the native
// event's concrete type.
package convert

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	gcal "google.golang.org/api/calendar/v3"

	"orbitsync/internal/caldav"
	"orbitsync/internal/google"
	"orbitsync/internal/models"
	"orbitsync/internal/provider"
	"orbitsync/internal/skylight"
)

// PlaceholderTitle substitutes an empty source title.
const PlaceholderTitle = "Untitled Event"

// skylightFallbackTimezone matches the historical default of the Skylight
// service when neither the event nor the endpoint carries a timezone.
const skylightFallbackTimezone = "America/New_York"

// Canonical is the converter's provider-independent view of one event:
// the canonical semantic fields plus the provider identity and change
// metadata needed for mapping and conflict resolution.
type Canonical struct {
	Title    string
	Start    time.Time
	End      time.Time
	Location string
	Notes    string

	UID     string
	Aliases []string
	Version string

	Timezone  string
	AllDay    bool
	Deleted   bool
	UpdatedAt time.Time
}

// ContentHash returns the canonical fingerprint of the semantic fields.
func (c *Canonical) ContentHash() string {
	return models.ContentHash(c.Title, c.Start, c.End, c.Location, c.Notes)
}

// ConversionError reports a malformed or unsupported native payload. The
// surrounding fetch loop skips the event and continues.
type ConversionError struct {
	Provider models.ProviderType
	Reason   string
	Err      error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("converting %s event: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("converting %s event: %s", e.Provider, e.Reason)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ValidationError reports a converted event missing required fields.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + e.Reason
}

// Options carries target-side conversion hints. CategoryIDs is a grouping
// hint consumed only by the conversion layer, never stored canonically.
type Options struct {
	Timezone    string
	CategoryIDs []string
}

// Converter performs bidirectional format conversion for all registered
// provider types.
type Converter struct {
	logger *slog.Logger

	// badStartCutoff drives a workaround for a known CalDAV upstream defect:
	// some servers report a stale DTSTART far in the past while DTEND is
	// current. Events whose start precedes the cutoff while the end does not
	// are corrected by treating the end as the true start.
	badStartCutoff time.Time
}

// New returns a Converter.
func New(logger *slog.Logger) *Converter {
	return &Converter{
		logger:         logger,
		badStartCutoff: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// FromNative converts a provider-native event to canonical form.
func (c *Converter) FromNative(native provider.NativeEvent) (*Canonical, error) {
	switch e := native.(type) {
	case *caldav.Event:
		return c.fromCalDAV(e)
	case *skylight.Event:
		return c.fromSkylight(e)
	case *google.Event:
		return c.fromGoogle(e)
	default:
		return nil, &ConversionError{Reason: fmt.Sprintf("unsupported native event type %T", native)}
	}
}

func (c *Converter) fromCalDAV(e *caldav.Event) (*Canonical, error) {
	if e.Component == nil {
		return nil, &ConversionError{Provider: models.ProviderCalDAV, Reason: "missing VEVENT component"}
	}
	event := ical.Event{Component: e.Component}

	uid, err := event.Props.Text(ical.PropUID)
	if err != nil || uid == "" {
		return nil, &ConversionError{Provider: models.ProviderCalDAV, Reason: "missing UID", Err: err}
	}

	title, _ := event.Props.Text(ical.PropSummary)
	if strings.TrimSpace(title) == "" {
		title = PlaceholderTitle
	}

	start, err := event.DateTimeStart(time.UTC)
	if err != nil {
		return nil, &ConversionError{Provider: models.ProviderCalDAV, Reason: "malformed DTSTART", Err: err}
	}
	// DateTimeEnd silently falls back to DTSTART when the component carries
	// neither DTEND nor DURATION, so check for the props first.
	var end time.Time
	if event.Props.Get(ical.PropDateTimeEnd) != nil || event.Props.Get(ical.PropDuration) != nil {
		if t, err := event.DateTimeEnd(time.UTC); err == nil {
			end = t
		}
	}

	// Known upstream defect: a stale DTSTART long in the past alongside a
	// current DTEND. Treat the end as the true start in that case.
	if !start.IsZero() && !end.IsZero() && start.Before(c.badStartCutoff) && end.After(c.badStartCutoff) {
		c.logger.Info("Correcting suspect DTSTART, using DTEND as start",
			"uid", uid, "start", start, "end", end)
		start = end
		end = start.Add(time.Hour)
	}

	if start.IsZero() {
		return nil, &ValidationError{Reason: "event has no start time"}
	}
	if end.IsZero() {
		end = start.Add(time.Hour)
	}

	location, _ := event.Props.Text(ical.PropLocation)
	notes, _ := event.Props.Text(ical.PropDescription)

	var updatedAt time.Time
	if prop := event.Props.Get(ical.PropLastModified); prop != nil {
		if t, err := prop.DateTime(time.UTC); err == nil {
			updatedAt = t
		}
	}

	deleted := false
	if status, err := event.Props.Text(ical.PropStatus); err == nil {
		deleted = strings.EqualFold(status, "CANCELLED")
	}

	return &Canonical{
		Title:     strings.TrimSpace(title),
		Start:     start,
		End:       end,
		Location:  location,
		Notes:     notes,
		UID:       uid,
		Version:   e.ETag,
		Deleted:   deleted,
		UpdatedAt: updatedAt,
	}, nil
}

func (c *Converter) fromSkylight(e *skylight.Event) (*Canonical, error) {
	attrs := e.Resource.Attributes

	title := attrs.Summary
	if title == "" {
		title = attrs.Title
	}
	if strings.TrimSpace(title) == "" {
		title = PlaceholderTitle
	}

	tz := attrs.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}

	start, err := parseRFC3339(attrs.StartsAt)
	if err != nil {
		return nil, &ConversionError{Provider: models.ProviderSkylight, Reason: "malformed starts_at", Err: err}
	}
	if start.IsZero() {
		return nil, &ValidationError{Reason: "event has no start time"}
	}
	end, err := parseRFC3339(attrs.EndsAt)
	if err != nil {
		return nil, &ConversionError{Provider: models.ProviderSkylight, Reason: "malformed ends_at", Err: err}
	}
	if end.IsZero() {
		end = start.Add(time.Hour)
	}

	// Skylight may surface several identifiers for the same record over its
	// lifetime; keep everything beyond the primary id as aliases.
	primary := e.Resource.ID
	if primary == "" {
		primary = attrs.UID
	}
	if primary == "" {
		return nil, &ConversionError{Provider: models.ProviderSkylight, Reason: "missing event id"}
	}
	var aliases []string
	for _, candidate := range []string{attrs.UID, attrs.OriginalUID, attrs.SourceUID} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || candidate == primary {
			continue
		}
		if !contains(aliases, candidate) {
			aliases = append(aliases, candidate)
		}
	}

	var updatedAt time.Time
	if t, err := parseRFC3339(attrs.UpdatedAt); err == nil {
		updatedAt = t
	}

	return &Canonical{
		Title:     strings.TrimSpace(title),
		Start:     start.In(loc),
		End:       end.In(loc),
		Location:  attrs.Location,
		Notes:     attrs.Description,
		UID:       primary,
		Aliases:   aliases,
		Version:   attrs.Version.String(),
		Timezone:  tz,
		AllDay:    attrs.AllDay,
		UpdatedAt: updatedAt,
	}, nil
}

func (c *Converter) fromGoogle(e *google.Event) (*Canonical, error) {
	item := e.Raw
	if item == nil {
		return nil, &ConversionError{Provider: models.ProviderGoogle, Reason: "missing event body"}
	}

	title := item.Summary
	if strings.TrimSpace(title) == "" {
		title = PlaceholderTitle
	}

	start, allDay, err := parseGoogleTime(item.Start)
	if err != nil {
		return nil, &ConversionError{Provider: models.ProviderGoogle, Reason: "malformed start", Err: err}
	}
	if start.IsZero() {
		return nil, &ValidationError{Reason: "event has no start time"}
	}
	end, _, err := parseGoogleTime(item.End)
	if err != nil {
		return nil, &ConversionError{Provider: models.ProviderGoogle, Reason: "malformed end", Err: err}
	}
	if end.IsZero() {
		end = start.Add(time.Hour)
	}

	var aliases []string
	if item.ICalUID != "" && item.ICalUID != item.Id {
		aliases = append(aliases, item.ICalUID)
	}

	var updatedAt time.Time
	if t, err := parseRFC3339(item.Updated); err == nil {
		updatedAt = t
	}

	tz := ""
	if item.Start != nil {
		tz = item.Start.TimeZone
	}

	return &Canonical{
		Title:     strings.TrimSpace(title),
		Start:     start,
		End:       end,
		Location:  item.Location,
		Notes:     item.Description,
		UID:       item.Id,
		Aliases:   aliases,
		Version:   item.Etag,
		Timezone:  tz,
		AllDay:    allDay,
		Deleted:   item.Status == "cancelled",
		UpdatedAt: updatedAt,
	}, nil
}

// ToNative converts a canonical event to the write payload for the given
// provider type. When existingUID is non-empty the payload addresses that
// native record; the converter never invents a new identifier on update.
func (c *Converter) ToNative(t models.ProviderType, canonical *Canonical, existingUID string, opts Options) (provider.Payload, error) {
	if canonical.Start.IsZero() || canonical.End.IsZero() {
		return nil, &ValidationError{Reason: "event is missing start or end time"}
	}

	switch t {
	case models.ProviderCalDAV:
		return c.toCalDAV(canonical, existingUID)
	case models.ProviderSkylight:
		return c.toSkylight(canonical, opts)
	case models.ProviderGoogle:
		return c.toGoogle(canonical, opts)
	default:
		return nil, &ConversionError{Provider: t, Reason: "unsupported provider type"}
	}
}

func (c *Converter) toCalDAV(canonical *Canonical, existingUID string) (*caldav.Payload, error) {
	uid := existingUID
	if uid == "" {
		uid = canonical.UID
	}
	if uid == "" {
		uid = "orbit-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	title := canonical.Title
	if strings.TrimSpace(title) == "" {
		title = PlaceholderTitle
	}

	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetText(ical.PropSummary, title)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, canonical.Start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, canonical.End)
	if canonical.Notes != "" {
		event.Props.SetText(ical.PropDescription, canonical.Notes)
	}
	if canonical.Location != "" {
		event.Props.SetText(ical.PropLocation, canonical.Location)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//orbitsync//EN")
	cal.Children = append(cal.Children, event)

	return &caldav.Payload{UID: uid, Calendar: cal}, nil
}

func (c *Converter) toSkylight(canonical *Canonical, opts Options) (*skylight.Payload, error) {
	title := canonical.Title
	if strings.TrimSpace(title) == "" {
		title = PlaceholderTitle
	}

	tz := canonical.Timezone
	if tz == "" {
		tz = opts.Timezone
	}
	if tz == "" {
		tz = skylightFallbackTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
		tz = "UTC"
	}

	return &skylight.Payload{
		Summary:       title,
		Kind:          "standard",
		CategoryIDs:   opts.CategoryIDs,
		StartsAt:      canonical.Start.In(loc).Format(time.RFC3339),
		EndsAt:        canonical.End.In(loc).Format(time.RFC3339),
		AllDay:        canonical.AllDay,
		InvitedEmails: []string{},
		Location:      canonical.Location,
		Description:   canonical.Notes,
		Timezone:      tz,
	}, nil
}

func (c *Converter) toGoogle(canonical *Canonical, opts Options) (*google.Payload, error) {
	tz := canonical.Timezone
	if tz == "" {
		tz = opts.Timezone
	}

	event := &gcal.Event{
		Summary:     canonical.Title,
		Location:    canonical.Location,
		Description: canonical.Notes,
		Start: &gcal.EventDateTime{
			DateTime: canonical.Start.Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &gcal.EventDateTime{
			DateTime: canonical.End.Format(time.RFC3339),
			TimeZone: tz,
		},
	}
	return &google.Payload{Raw: event}, nil
}

func parseRFC3339(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func parseGoogleTime(edt *gcal.EventDateTime) (time.Time, bool, error) {
	if edt == nil {
		return time.Time{}, false, nil
	}
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		return t, false, err
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		return t, true, err
	}
	return time.Time{}, false, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
