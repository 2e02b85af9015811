package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"orbitsync/internal/models"
)

// UpsertMappingParams carries the inputs for UpsertMapping. ETagOrVersion is
// only written when non-nil, so callers that have no fresh change token do
// not clobber the stored one.
type UpsertMappingParams struct {
	ProviderID    string
	ProviderType  models.ProviderType
	ProviderUID   string
	OrbitEventID  string
	ETagOrVersion *string
	Tombstoned    bool
	AlternateUIDs []string
	LastSeenAt    time.Time
}

// UpsertMapping inserts or updates the mapping row for a provider event.
//
// Lookup order: first by (provider_id, provider_uid); if absent, by
// (provider_id, orbit_event_id). The fallback handles providers that rewrite
// their native identifier after creation: the existing row is re-pointed to
// the new uid and the old uid is folded into alternate_uids, so the pair
// (provider, canonical event) never accumulates more than one live row.
// Alias sets are unioned, never shrunk.
func (s *Store) UpsertMapping(ctx context.Context, q Queryable, p UpsertMappingParams) (*models.ProviderMapping, error) {
	aliases := normalizeAliases(p.AlternateUIDs, p.ProviderUID)

	mapping, err := s.mappingByUID(ctx, q, p.ProviderID, p.ProviderUID)
	if err != nil {
		return nil, err
	}

	var fallback *models.ProviderMapping
	if mapping == nil {
		fallback, err = s.mappingByEvent(ctx, q, p.ProviderID, p.OrbitEventID)
		if err != nil {
			return nil, err
		}
	}

	now := p.LastSeenAt
	if now.IsZero() {
		now = utcNow()
	}

	switch {
	case mapping != nil:
		mapping.OrbitEventID = p.OrbitEventID
		mapping.ProviderType = p.ProviderType
		mapping.Tombstoned = p.Tombstoned
		mapping.LastSeenAt = now
		if p.ETagOrVersion != nil {
			mapping.ETagOrVersion = *p.ETagOrVersion
		}
		mapping.AlternateUIDs = unionAliases(mapping.AlternateUIDs, aliases)
		if err := s.writeMapping(ctx, q, mapping); err != nil {
			return nil, err
		}
		return mapping, nil

	case fallback != nil:
		pool := unionAliases(fallback.AlternateUIDs, aliases)
		if fallback.ProviderUID != "" && fallback.ProviderUID != p.ProviderUID {
			pool = unionAliases(pool, []string{fallback.ProviderUID})
		}
		fallback.ProviderUID = p.ProviderUID
		fallback.ProviderType = p.ProviderType
		fallback.Tombstoned = p.Tombstoned
		fallback.LastSeenAt = now
		if p.ETagOrVersion != nil {
			fallback.ETagOrVersion = *p.ETagOrVersion
		}
		fallback.AlternateUIDs = pool
		if err := s.writeMapping(ctx, q, fallback); err != nil {
			return nil, err
		}
		return fallback, nil

	default:
		mapping = &models.ProviderMapping{
			ID:            newID(),
			OrbitEventID:  p.OrbitEventID,
			ProviderID:    p.ProviderID,
			ProviderType:  p.ProviderType,
			ProviderUID:   p.ProviderUID,
			Tombstoned:    p.Tombstoned,
			AlternateUIDs: aliases,
			LastSeenAt:    now,
			CreatedAt:     utcNow(),
			UpdatedAt:     utcNow(),
		}
		if p.ETagOrVersion != nil {
			mapping.ETagOrVersion = *p.ETagOrVersion
		}
		aliasJSON, err := marshalAliases(mapping.AlternateUIDs)
		if err != nil {
			return nil, err
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO provider_mappings (id, orbit_event_id, provider_id, provider_type, provider_uid,
				etag_or_version, alternate_uids, tombstoned, last_seen_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			mapping.ID, mapping.OrbitEventID, mapping.ProviderID, string(mapping.ProviderType),
			mapping.ProviderUID, mapping.ETagOrVersion, aliasJSON, mapping.Tombstoned,
			mapping.LastSeenAt, mapping.CreatedAt, mapping.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting provider mapping: %w", err)
		}
		return mapping, nil
	}
}

// GetMapping returns the mapping for (providerID, providerUID), or nil. When
// aliases are given and no direct match exists, mappings for the provider are
// searched by current uid and recorded aliases.
func (s *Store) GetMapping(ctx context.Context, q Queryable, providerID, providerUID string, aliases ...string) (*models.ProviderMapping, error) {
	mapping, err := s.mappingByUID(ctx, q, providerID, providerUID)
	if err != nil || mapping != nil {
		return mapping, err
	}
	if len(aliases) == 0 {
		return nil, nil
	}

	search := map[string]bool{providerUID: true}
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias != "" {
			search[alias] = true
		}
	}

	candidates, err := s.MappingsForProvider(ctx, q, providerID)
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		if search[candidate.ProviderUID] {
			return candidate, nil
		}
		for _, alias := range candidate.AlternateUIDs {
			if search[alias] {
				return candidate, nil
			}
		}
	}
	return nil, nil
}

// GetOrbitID returns the canonical event id mapped to a provider event, or "".
func (s *Store) GetOrbitID(ctx context.Context, q Queryable, providerID, providerUID string) (string, error) {
	mapping, err := s.GetMapping(ctx, q, providerID, providerUID)
	if err != nil || mapping == nil {
		return "", err
	}
	return mapping.OrbitEventID, nil
}

// GetProviderUID returns a provider's native identifier for a canonical
// event, or "" when the provider holds no live mapping for it.
func (s *Store) GetProviderUID(ctx context.Context, q Queryable, providerID, orbitEventID string) (string, error) {
	mapping, err := s.mappingByEvent(ctx, q, providerID, orbitEventID)
	if err != nil || mapping == nil {
		return "", err
	}
	return mapping.ProviderUID, nil
}

// MappingsForEvent returns all mappings referencing a canonical event.
func (s *Store) MappingsForEvent(ctx context.Context, q Queryable, orbitEventID string) ([]*models.ProviderMapping, error) {
	return s.queryMappings(ctx, q, `WHERE orbit_event_id = ?`, orbitEventID)
}

// MappingsForProvider returns all mappings owned by a provider.
func (s *Store) MappingsForProvider(ctx context.Context, q Queryable, providerID string) ([]*models.ProviderMapping, error) {
	return s.queryMappings(ctx, q, `WHERE provider_id = ?`, providerID)
}

// MarkTombstoned sets the tombstone flag on a provider mapping.
func (s *Store) MarkTombstoned(ctx context.Context, q Queryable, providerID, providerUID string, value bool) error {
	_, err := q.ExecContext(ctx, `
		UPDATE provider_mappings SET tombstoned = ?, updated_at = ?
		WHERE provider_id = ? AND provider_uid = ?`,
		value, utcNow(), providerID, providerUID)
	if err != nil {
		return fmt.Errorf("tombstoning mapping %s/%s: %w", providerID, providerUID, err)
	}
	return nil
}

// PruneStale removes tombstoned mappings last seen before the given time.
// Returns the number of rows deleted.
func (s *Store) PruneStale(ctx context.Context, q Queryable, providerID string, before time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
		DELETE FROM provider_mappings
		WHERE provider_id = ? AND tombstoned = 1 AND last_seen_at < ?`,
		providerID, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning stale mappings for provider %s: %w", providerID, err)
	}
	return res.RowsAffected()
}

func (s *Store) mappingByUID(ctx context.Context, q Queryable, providerID, providerUID string) (*models.ProviderMapping, error) {
	row := q.QueryRowContext(ctx, selectMapping+` WHERE provider_id = ? AND provider_uid = ?`,
		providerID, providerUID)
	return scanMapping(row)
}

func (s *Store) mappingByEvent(ctx context.Context, q Queryable, providerID, orbitEventID string) (*models.ProviderMapping, error) {
	row := q.QueryRowContext(ctx, selectMapping+` WHERE provider_id = ? AND orbit_event_id = ?`,
		providerID, orbitEventID)
	return scanMapping(row)
}

func (s *Store) writeMapping(ctx context.Context, q Queryable, m *models.ProviderMapping) error {
	aliasJSON, err := marshalAliases(m.AlternateUIDs)
	if err != nil {
		return err
	}
	m.UpdatedAt = utcNow()
	_, err = q.ExecContext(ctx, `
		UPDATE provider_mappings SET orbit_event_id = ?, provider_type = ?, provider_uid = ?,
			etag_or_version = ?, alternate_uids = ?, tombstoned = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ?`,
		m.OrbitEventID, string(m.ProviderType), m.ProviderUID, m.ETagOrVersion,
		aliasJSON, m.Tombstoned, m.LastSeenAt, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("updating provider mapping %s: %w", m.ID, err)
	}
	return nil
}

const selectMapping = `
	SELECT id, orbit_event_id, provider_id, provider_type, provider_uid,
		etag_or_version, alternate_uids, tombstoned, last_seen_at, created_at, updated_at
	FROM provider_mappings`

func (s *Store) queryMappings(ctx context.Context, q Queryable, where string, args ...any) ([]*models.ProviderMapping, error) {
	rows, err := q.QueryContext(ctx, selectMapping+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying provider mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*models.ProviderMapping
	for rows.Next() {
		m, err := scanMappingRows(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func scanMapping(row *sql.Row) (*models.ProviderMapping, error) {
	var m models.ProviderMapping
	var providerType, aliasJSON string
	var lastSeen sql.NullTime
	err := row.Scan(&m.ID, &m.OrbitEventID, &m.ProviderID, &providerType, &m.ProviderUID,
		&m.ETagOrVersion, &aliasJSON, &m.Tombstoned, &lastSeen, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning provider mapping: %w", err)
	}
	return finishMapping(&m, providerType, aliasJSON, lastSeen)
}

func scanMappingRows(rows *sql.Rows) (*models.ProviderMapping, error) {
	var m models.ProviderMapping
	var providerType, aliasJSON string
	var lastSeen sql.NullTime
	err := rows.Scan(&m.ID, &m.OrbitEventID, &m.ProviderID, &providerType, &m.ProviderUID,
		&m.ETagOrVersion, &aliasJSON, &m.Tombstoned, &lastSeen, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning provider mapping: %w", err)
	}
	return finishMapping(&m, providerType, aliasJSON, lastSeen)
}

func finishMapping(m *models.ProviderMapping, providerType, aliasJSON string, lastSeen sql.NullTime) (*models.ProviderMapping, error) {
	m.ProviderType = models.ProviderType(providerType)
	if lastSeen.Valid {
		m.LastSeenAt = lastSeen.Time
	}
	if aliasJSON != "" {
		if err := json.Unmarshal([]byte(aliasJSON), &m.AlternateUIDs); err != nil {
			return nil, fmt.Errorf("decoding alternate uids for mapping %s: %w", m.ID, err)
		}
	}
	return m, nil
}

func marshalAliases(aliases []string) (string, error) {
	if aliases == nil {
		aliases = []string{}
	}
	data, err := json.Marshal(aliases)
	if err != nil {
		return "", fmt.Errorf("encoding alternate uids: %w", err)
	}
	return string(data), nil
}

// normalizeAliases trims, dedupes, and drops empty values and the primary uid.
func normalizeAliases(aliases []string, primaryUID string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" || alias == primaryUID || seen[alias] {
			continue
		}
		seen[alias] = true
		out = append(out, alias)
	}
	return out
}

func unionAliases(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, alias := range existing {
		if alias != "" && !seen[alias] {
			seen[alias] = true
			out = append(out, alias)
		}
	}
	for _, alias := range incoming {
		if alias != "" && !seen[alias] {
			seen[alias] = true
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}
