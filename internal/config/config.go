// Package config loads engine settings from the environment and sync
// definitions from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"orbitsync/internal/models"
)

// Config holds the engine-level settings. Provider credentials live in the
// sync definitions file, not here.
type Config struct {
	DBPath          string
	SyncFile        string
	DefaultTimezone string
	LogLevel        string

	ConflictThreshold time.Duration
	DedupWindow       time.Duration
	RunRetention      int
	MappingRetention  time.Duration

	// ProviderPriority orders provider types from most to least authoritative
	// for conflict tiebreaks.
	ProviderPriority []models.ProviderType
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:          getEnv("ORBITSYNC_DB_PATH", "data/orbitsync.db"),
		SyncFile:        getEnv("ORBITSYNC_SYNC_FILE", "syncs.json"),
		DefaultTimezone: getEnv("PRIMARY_TIMEZONE", "UTC"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.ConflictThreshold, err = getEnvDuration("ORBITSYNC_CONFLICT_THRESHOLD", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.DedupWindow, err = getEnvDuration("ORBITSYNC_DEDUP_WINDOW", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.MappingRetention, err = getEnvDuration("ORBITSYNC_MAPPING_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RunRetention, err = getEnvInt("ORBITSYNC_RUN_RETENTION", 25); err != nil {
		return nil, err
	}

	cfg.ProviderPriority = parsePriority(getEnv("ORBITSYNC_PROVIDER_PRIORITY", "caldav,google,skylight"))

	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.DefaultTimezone, err)
	}
	return cfg, nil
}

// LoadDefinitions reads sync definitions from a JSON file. The file holds
// either a bare array of definitions or an object with a "syncs" key.
func LoadDefinitions(path string) ([]*models.SyncDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sync definitions from %s: %w", path, err)
	}

	var defs []*models.SyncDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		var wrapper struct {
			Syncs []*models.SyncDefinition `json:"syncs"`
		}
		if werr := json.Unmarshal(data, &wrapper); werr != nil {
			return nil, fmt.Errorf("parsing sync definitions from %s: %w", path, err)
		}
		defs = wrapper.Syncs
	}

	for i, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("sync definition %d has no id", i)
		}
		if def.Direction == "" {
			def.Direction = models.DirectionBidirectional
		}
		for j, ep := range def.Endpoints {
			if ep.ProviderID == "" {
				return nil, fmt.Errorf("sync %s endpoint %d has no provider_id", def.ID, j)
			}
			if ep.ProviderType == "" {
				return nil, fmt.Errorf("sync %s endpoint %s has no provider_type", def.ID, ep.ProviderID)
			}
		}
	}
	return defs, nil
}

func parsePriority(raw string) []models.ProviderType {
	var out []models.ProviderType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, models.ProviderType(part))
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
