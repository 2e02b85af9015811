package convert

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbitsync/internal/caldav"
	"orbitsync/internal/google"
	"orbitsync/internal/models"
	"orbitsync/internal/skylight"

	gcal "google.golang.org/api/calendar/v3"
)

func testConverter() *Converter {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func vevent(uid string, start, end time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, "Team lunch")
	ve.Props.SetDateTime(ical.PropDateTimeStart, start)
	if !end.IsZero() {
		ve.Props.SetDateTime(ical.PropDateTimeEnd, end)
	}
	return ve
}

func TestFromNative_CalDAV(t *testing.T) {
	c := testConverter()
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ve := vevent("abc-123", start, start.Add(time.Hour))
	ve.Props.SetText(ical.PropLocation, "Cafe")
	ve.Props.SetText(ical.PropDescription, "monthly")

	got, err := c.FromNative(&caldav.Event{ETag: `"v1"`, Component: ve})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", got.UID)
	assert.Equal(t, "Team lunch", got.Title)
	assert.True(t, got.Start.Equal(start))
	assert.True(t, got.End.Equal(start.Add(time.Hour)))
	assert.Equal(t, "Cafe", got.Location)
	assert.Equal(t, "monthly", got.Notes)
	assert.Equal(t, `"v1"`, got.Version)
	assert.False(t, got.Deleted)
}

func TestFromNative_CalDAV_MissingEndDefaultsToOneHour(t *testing.T) {
	c := testConverter()
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ve := vevent("abc-123", start, time.Time{})

	got, err := c.FromNative(&caldav.Event{Component: ve})
	require.NoError(t, err)
	assert.True(t, got.End.Equal(start.Add(time.Hour)))
}

func TestFromNative_CalDAV_SuspectStartCorrected(t *testing.T) {
	c := testConverter()
	// A start long before the cutoff with a current end means the server
	// reported a bogus DTSTART.
	badStart := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC)
	ve := vevent("abc-123", badStart, end)

	got, err := c.FromNative(&caldav.Event{Component: ve})
	require.NoError(t, err)
	assert.True(t, got.Start.Equal(end), "end becomes the corrected start")
	assert.True(t, got.End.Equal(end.Add(time.Hour)))
}

func TestFromNative_CalDAV_OldEventsLeftAlone(t *testing.T) {
	c := testConverter()
	// Both times before the cutoff is just an old event, not a defect.
	start := time.Date(2019, 5, 1, 10, 0, 0, 0, time.UTC)
	ve := vevent("abc-123", start, start.Add(time.Hour))

	got, err := c.FromNative(&caldav.Event{Component: ve})
	require.NoError(t, err)
	assert.True(t, got.Start.Equal(start))
}

func TestFromNative_CalDAV_EmptyTitlePlaceholder(t *testing.T) {
	c := testConverter()
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ve := vevent("abc-123", start, start.Add(time.Hour))
	ve.Props.SetText(ical.PropSummary, "   ")

	got, err := c.FromNative(&caldav.Event{Component: ve})
	require.NoError(t, err)
	assert.Equal(t, PlaceholderTitle, got.Title)
}

func TestFromNative_CalDAV_CancelledStatus(t *testing.T) {
	c := testConverter()
	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ve := vevent("abc-123", start, start.Add(time.Hour))
	ve.Props.SetText(ical.PropStatus, "CANCELLED")

	got, err := c.FromNative(&caldav.Event{Component: ve})
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestFromNative_CalDAV_MissingUID(t *testing.T) {
	c := testConverter()
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetDateTime(ical.PropDateTimeStart, time.Now())

	_, err := c.FromNative(&caldav.Event{Component: ve})
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, models.ProviderCalDAV, convErr.Provider)
}

func skylightEvent(id string) *skylight.Event {
	return &skylight.Event{Resource: skylight.Resource{
		ID: id,
		Attributes: skylight.EventAttributes{
			Summary:   "Soccer practice",
			StartsAt:  "2026-06-01T16:00:00Z",
			EndsAt:    "2026-06-01T17:30:00Z",
			Timezone:  "UTC",
			UpdatedAt: "2026-05-20T08:00:00Z",
		},
	}}
}

func TestFromNative_Skylight(t *testing.T) {
	c := testConverter()
	got, err := c.FromNative(skylightEvent("sk-1"))
	require.NoError(t, err)

	assert.Equal(t, "sk-1", got.UID)
	assert.Equal(t, "Soccer practice", got.Title)
	assert.True(t, got.Start.Equal(time.Date(2026, 6, 1, 16, 0, 0, 0, time.UTC)))
	assert.True(t, got.UpdatedAt.Equal(time.Date(2026, 5, 20, 8, 0, 0, 0, time.UTC)))
}

func TestFromNative_Skylight_AliasExtraction(t *testing.T) {
	c := testConverter()
	e := skylightEvent("sk-1")
	e.Resource.Attributes.UID = "ical-uid-1"
	e.Resource.Attributes.OriginalUID = "orig-1"
	e.Resource.Attributes.SourceUID = "ical-uid-1"

	got, err := c.FromNative(e)
	require.NoError(t, err)
	assert.Equal(t, "sk-1", got.UID)
	assert.ElementsMatch(t, []string{"ical-uid-1", "orig-1"}, got.Aliases,
		"secondary identifiers dedupe and exclude the primary")
}

func TestFromNative_Skylight_MissingStart(t *testing.T) {
	c := testConverter()
	e := skylightEvent("sk-1")
	e.Resource.Attributes.StartsAt = ""

	_, err := c.FromNative(e)
	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestFromNative_Google(t *testing.T) {
	c := testConverter()
	got, err := c.FromNative(&google.Event{Raw: &gcal.Event{
		Id:      "g-1",
		ICalUID: "g-1@google.com",
		Summary: "Flight",
		Status:  "confirmed",
		Etag:    `"etag"`,
		Updated: "2026-05-20T08:00:00Z",
		Start:   &gcal.EventDateTime{DateTime: "2026-06-01T16:00:00Z"},
		End:     &gcal.EventDateTime{DateTime: "2026-06-01T18:00:00Z"},
	}})
	require.NoError(t, err)

	assert.Equal(t, "g-1", got.UID)
	assert.Equal(t, []string{"g-1@google.com"}, got.Aliases)
	assert.False(t, got.Deleted)
	assert.False(t, got.AllDay)
}

func TestFromNative_Google_AllDay(t *testing.T) {
	c := testConverter()
	got, err := c.FromNative(&google.Event{Raw: &gcal.Event{
		Id:    "g-2",
		Start: &gcal.EventDateTime{Date: "2026-06-01"},
		End:   &gcal.EventDateTime{Date: "2026-06-02"},
	}})
	require.NoError(t, err)
	assert.True(t, got.AllDay)
	assert.Equal(t, PlaceholderTitle, got.Title)
}

func TestFromNative_Google_Cancelled(t *testing.T) {
	c := testConverter()
	got, err := c.FromNative(&google.Event{Raw: &gcal.Event{
		Id:     "g-3",
		Status: "cancelled",
		Start:  &gcal.EventDateTime{DateTime: "2026-06-01T16:00:00Z"},
		End:    &gcal.EventDateTime{DateTime: "2026-06-01T17:00:00Z"},
	}})
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func sampleCanonical() *Canonical {
	return &Canonical{
		Title:    "Dinner",
		Start:    time.Date(2026, 6, 1, 19, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 6, 1, 21, 0, 0, 0, time.UTC),
		Location: "Home",
		Notes:    "pasta night",
		UID:      "src-uid",
	}
}

func TestToNative_CalDAV_PreservesExistingUID(t *testing.T) {
	c := testConverter()
	out, err := c.ToNative(models.ProviderCalDAV, sampleCanonical(), "existing-uid", Options{})
	require.NoError(t, err)

	payload, ok := out.(*caldav.Payload)
	require.True(t, ok)
	assert.Equal(t, "existing-uid", payload.UID)

	uid, err := payload.Calendar.Children[0].Props.Text(ical.PropUID)
	require.NoError(t, err)
	assert.Equal(t, "existing-uid", uid)
}

func TestToNative_CalDAV_ReusesSourceUID(t *testing.T) {
	c := testConverter()
	out, err := c.ToNative(models.ProviderCalDAV, sampleCanonical(), "", Options{})
	require.NoError(t, err)
	assert.Equal(t, "src-uid", out.(*caldav.Payload).UID)
}

func TestToNative_CalDAV_GeneratesUIDWhenNoneKnown(t *testing.T) {
	c := testConverter()
	canonical := sampleCanonical()
	canonical.UID = ""

	out, err := c.ToNative(models.ProviderCalDAV, canonical, "", Options{})
	require.NoError(t, err)
	assert.Contains(t, out.(*caldav.Payload).UID, "orbit-")
}

func TestToNative_Skylight_TimezoneFallback(t *testing.T) {
	c := testConverter()
	out, err := c.ToNative(models.ProviderSkylight, sampleCanonical(), "", Options{})
	require.NoError(t, err)

	payload := out.(*skylight.Payload)
	assert.Equal(t, skylightFallbackTimezone, payload.Timezone)
	assert.Equal(t, "Dinner", payload.Summary)
	assert.NotNil(t, payload.InvitedEmails)
}

func TestToNative_Skylight_EndpointTimezonePreferred(t *testing.T) {
	c := testConverter()
	out, err := c.ToNative(models.ProviderSkylight, sampleCanonical(), "", Options{Timezone: "Europe/Lisbon"})
	require.NoError(t, err)
	assert.Equal(t, "Europe/Lisbon", out.(*skylight.Payload).Timezone)
}

func TestToNative_Google(t *testing.T) {
	c := testConverter()
	out, err := c.ToNative(models.ProviderGoogle, sampleCanonical(), "", Options{Timezone: "UTC"})
	require.NoError(t, err)

	payload := out.(*google.Payload)
	assert.Equal(t, "Dinner", payload.Raw.Summary)
	assert.Equal(t, "2026-06-01T19:00:00Z", payload.Raw.Start.DateTime)
}

func TestToNative_RejectsMissingTimes(t *testing.T) {
	c := testConverter()
	canonical := sampleCanonical()
	canonical.End = time.Time{}

	_, err := c.ToNative(models.ProviderCalDAV, canonical, "", Options{})
	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)
}
