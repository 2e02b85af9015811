// Package skylight implements the provider adapter for the Skylight frame
// calendar, a JSON:API service addressed per frame and category.
package skylight

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orbitsync/internal/models"
	"orbitsync/internal/provider"
)

// DefaultBaseURL is the production Skylight API host.
const DefaultBaseURL = "https://app.ourskylight.com"

// sessionTTL is how long a login token is trusted before re-authenticating.
const sessionTTL = 12 * time.Hour

// ResourceIdentifier is a JSON:API linkage object.
type ResourceIdentifier struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// EventAttributes is the attribute block of a Skylight calendar event.
type EventAttributes struct {
	Summary     string      `json:"summary"`
	Title       string      `json:"title"`
	StartsAt    string      `json:"starts_at"`
	EndsAt      string      `json:"ends_at"`
	Timezone    string      `json:"timezone"`
	Location    string      `json:"location"`
	Description string      `json:"description"`
	UID         string      `json:"uid"`
	OriginalUID string      `json:"original_uid"`
	SourceUID   string      `json:"source_uid"`
	Version     json.Number `json:"version"`
	UpdatedAt   string      `json:"updated_at"`
	AllDay      bool        `json:"all_day"`
}

// Resource is a JSON:API calendar event resource.
type Resource struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Attributes    EventAttributes `json:"attributes"`
	Relationships struct {
		Categories struct {
			Data []ResourceIdentifier `json:"data"`
		} `json:"categories"`
	} `json:"relationships"`
}

// Event is a provider-native Skylight event.
type Event struct {
	Resource Resource
}

// Provider implements provider.NativeEvent.
func (*Event) Provider() models.ProviderType { return models.ProviderSkylight }

// Payload is the Skylight event write body.
type Payload struct {
	Summary           string   `json:"summary"`
	Kind              string   `json:"kind"`
	CategoryIDs       []string `json:"category_ids"`
	StartsAt          string   `json:"starts_at"`
	EndsAt            string   `json:"ends_at"`
	AllDay            bool     `json:"all_day"`
	RRule             *string  `json:"rrule"`
	InvitedEmails     []string `json:"invited_emails"`
	Location          string   `json:"location"`
	Lat               *float64 `json:"lat"`
	Lng               *float64 `json:"lng"`
	Description       string   `json:"description"`
	CalendarAccountID *string  `json:"calendar_account_id"`
	CalendarID        *string  `json:"calendar_id"`
	Timezone          string   `json:"timezone"`
	CountdownEnabled  bool     `json:"countdown_enabled"`
}

// PayloadProvider implements provider.Payload.
func (*Payload) PayloadProvider() models.ProviderType { return models.ProviderSkylight }

// Adapter talks to one Skylight frame. Not safe for concurrent use.
type Adapter struct {
	providerID   string
	logger       *slog.Logger
	baseURL      string
	email        string
	password     string
	frameName    string
	categoryName string
	timezone     string

	httpClient *http.Client
	authHeader string
	lastLogin  time.Time

	frameID    string
	categoryID string
}

// New builds a Skylight adapter from provider config. Recognized keys:
// base_url, email, password, frame_name, category_name, timezone.
func New(providerID string, config map[string]string, logger *slog.Logger) (provider.Adapter, error) {
	email := config["email"]
	password := config["password"]
	if email == "" || password == "" {
		return nil, fmt.Errorf("skylight provider %s: email and password are required", providerID)
	}
	if config["frame_name"] == "" {
		return nil, fmt.Errorf("skylight provider %s: frame_name is required", providerID)
	}

	baseURL := strings.TrimSuffix(strings.TrimSpace(config["base_url"]), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Adapter{
		providerID:   providerID,
		logger:       logger,
		baseURL:      baseURL,
		email:        email,
		password:     password,
		frameName:    config["frame_name"],
		categoryName: config["category_name"],
		timezone:     config["timezone"],
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Initialize authenticates and resolves the configured frame and category.
func (a *Adapter) Initialize(ctx context.Context) error {
	if err := a.login(ctx); err != nil {
		return err
	}
	if err := a.resolveFrame(ctx); err != nil {
		return err
	}
	return a.resolveCategory(ctx)
}

// ListEvents fetches events in the window, filtered to the configured
// category when one is resolved.
func (a *Adapter) ListEvents(ctx context.Context, start, end time.Time) ([]provider.NativeEvent, error) {
	q := url.Values{}
	q.Set("date_min", start.UTC().Format(time.RFC3339))
	q.Set("date_max", end.UTC().Format(time.RFC3339))
	if a.timezone != "" {
		q.Set("timezone", a.timezone)
	}
	q.Set("include", "categories")

	endpoint := fmt.Sprintf("/api/frames/%s/calendar_events?%s", a.frameID, q.Encode())
	body, err := a.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var listResp struct {
		Data []Resource `json:"data"`
	}
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("decoding event list: %w", err)
	}

	var events []provider.NativeEvent
	for _, res := range listResp.Data {
		if a.categoryID != "" && !hasCategory(res, a.categoryID) {
			continue
		}
		events = append(events, &Event{Resource: res})
	}

	a.logger.Debug("Listed Skylight events",
		"provider_id", a.providerID, "total", len(listResp.Data), "filtered", len(events))
	return events, nil
}

// CreateEvent posts a new calendar event and returns its id and version.
func (a *Adapter) CreateEvent(ctx context.Context, payload provider.Payload) (provider.WriteResult, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return provider.WriteResult{}, fmt.Errorf("skylight adapter received %T payload", payload)
	}
	a.applyCategoryDefault(p)

	endpoint := fmt.Sprintf("/api/frames/%s/calendar_events", a.frameID)
	body, err := a.doRequest(ctx, http.MethodPost, endpoint, p)
	if err != nil {
		return provider.WriteResult{}, err
	}

	res, err := decodeResource(body)
	if err != nil {
		return provider.WriteResult{}, err
	}
	if res.ID == "" {
		return provider.WriteResult{}, fmt.Errorf("skylight returned no event id on create")
	}
	return provider.WriteResult{UID: res.ID, Version: res.Attributes.Version.String()}, nil
}

// UpdateEvent puts the full payload at the event's id.
func (a *Adapter) UpdateEvent(ctx context.Context, uid string, payload provider.Payload) (provider.WriteResult, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return provider.WriteResult{}, fmt.Errorf("skylight adapter received %T payload", payload)
	}
	if uid == "" {
		return provider.WriteResult{}, fmt.Errorf("skylight update requires an event id")
	}
	a.applyCategoryDefault(p)

	endpoint := fmt.Sprintf("/api/frames/%s/calendar_events/%s", a.frameID, uid)
	body, err := a.doRequest(ctx, http.MethodPut, endpoint, p)
	if err != nil {
		return provider.WriteResult{}, err
	}

	res, err := decodeResource(body)
	if err != nil {
		return provider.WriteResult{UID: uid}, nil
	}
	return provider.WriteResult{UID: uid, Version: res.Attributes.Version.String()}, nil
}

// DeleteEvent removes the event with the given id.
func (a *Adapter) DeleteEvent(ctx context.Context, uid string) error {
	if uid == "" {
		return fmt.Errorf("skylight delete requires an event id")
	}
	endpoint := fmt.Sprintf("/api/frames/%s/calendar_events/%s", a.frameID, uid)
	_, err := a.doRequest(ctx, http.MethodDelete, endpoint, nil)
	return err
}

// Close implements provider.Adapter.
func (a *Adapter) Close() error { return nil }

// Timezone returns the configured timezone context, if any.
func (a *Adapter) Timezone() string { return a.timezone }

func (a *Adapter) applyCategoryDefault(p *Payload) {
	if len(p.CategoryIDs) == 0 && a.categoryID != "" {
		p.CategoryIDs = []string{a.categoryID}
	}
	if p.Timezone == "" && a.timezone != "" {
		p.Timezone = a.timezone
	}
}

func (a *Adapter) login(ctx context.Context) error {
	loginBody := map[string]any{
		"email":    a.email,
		"password": a.password,
	}
	data, err := json.Marshal(loginBody)
	if err != nil {
		return fmt.Errorf("encoding login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/sessions", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("skylight login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("skylight login failed with status %d", resp.StatusCode)
	}

	var sessionResp struct {
		Data struct {
			ID         string `json:"id"`
			Attributes struct {
				Token string `json:"token"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sessionResp); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if sessionResp.Data.ID == "" || sessionResp.Data.Attributes.Token == "" {
		return fmt.Errorf("skylight login response missing session id or token")
	}

	auth := sessionResp.Data.ID + ":" + sessionResp.Data.Attributes.Token
	a.authHeader = "Basic " + base64.StdEncoding.EncodeToString([]byte(auth))
	a.lastLogin = time.Now()
	a.logger.Debug("Skylight login successful", "provider_id", a.providerID)
	return nil
}

func (a *Adapter) ensureAuthenticated(ctx context.Context) error {
	if a.authHeader == "" || time.Since(a.lastLogin) > sessionTTL {
		return a.login(ctx)
	}
	return nil
}

// doRequest performs an authenticated request, retrying once with a fresh
// token on an auth failure. Returns the response body.
func (a *Adapter) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := a.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request payload: %w", err)
		}
	}

	send := func() (*http.Response, error) {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Authorization", a.authHeader)
		req.Header.Set("Content-Type", "application/json")
		return a.httpClient.Do(req)
	}

	resp, err := send()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		a.logger.Warn("Skylight auth failed, retrying with fresh token", "provider_id", a.providerID)
		if err := a.login(ctx); err != nil {
			return nil, err
		}
		resp, err = send()
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func (a *Adapter) resolveFrame(ctx context.Context) error {
	body, err := a.doRequest(ctx, http.MethodGet, "/api/frames", nil)
	if err != nil {
		return fmt.Errorf("listing frames: %w", err)
	}

	var framesResp struct {
		Data []struct {
			ID         string `json:"id"`
			Attributes struct {
				Label string `json:"label"`
				Name  string `json:"name"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &framesResp); err != nil {
		return fmt.Errorf("decoding frames: %w", err)
	}

	var available []string
	for _, frame := range framesResp.Data {
		label := frame.Attributes.Label
		if label == "" {
			label = frame.Attributes.Name
		}
		if label == a.frameName {
			a.frameID = frame.ID
			a.logger.Info("Found Skylight frame", "provider_id", a.providerID, "frame_id", frame.ID, "name", label)
			return nil
		}
		available = append(available, label)
	}
	return fmt.Errorf("frame %q not found, available: %v", a.frameName, available)
}

func (a *Adapter) resolveCategory(ctx context.Context) error {
	if a.categoryName == "" {
		return nil
	}

	body, err := a.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/frames/%s/categories", a.frameID), nil)
	if err != nil {
		a.logger.Warn("Failed to list Skylight categories, continuing without category filter",
			"provider_id", a.providerID, "error", err)
		return nil
	}

	var categoriesResp struct {
		Data []struct {
			ID         string `json:"id"`
			Attributes struct {
				Label string `json:"label"`
				Name  string `json:"name"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &categoriesResp); err != nil {
		return fmt.Errorf("decoding categories: %w", err)
	}

	for _, cat := range categoriesResp.Data {
		label := cat.Attributes.Label
		if label == "" {
			label = cat.Attributes.Name
		}
		if strings.EqualFold(label, a.categoryName) {
			a.categoryID = cat.ID
			a.logger.Info("Found Skylight category", "provider_id", a.providerID, "category_id", cat.ID, "name", label)
			return nil
		}
	}

	a.logger.Warn("Skylight category not found, events will not be category-filtered",
		"provider_id", a.providerID, "category", a.categoryName)
	return nil
}

func hasCategory(res Resource, categoryID string) bool {
	for _, cat := range res.Relationships.Categories.Data {
		if cat.ID == categoryID {
			return true
		}
	}
	return false
}

// decodeResource accepts either a bare resource or one wrapped in "data".
func decodeResource(body []byte) (*Resource, error) {
	var wrapped struct {
		Data *Resource `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil && wrapped.Data.ID != "" {
		return wrapped.Data, nil
	}

	var res Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decoding event resource: %w", err)
	}
	return &res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
