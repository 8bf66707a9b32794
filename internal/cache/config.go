package cache

import (
	"fmt"
	"log/slog"
	"time"
)

// Backend type names accepted by Open
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config selects and tunes the durable backend
type Config struct {
	Backend    string `yaml:"backend"`
	RedisURL   string `yaml:"redis_url"`
	Prefix     string `yaml:"prefix"`
	SQLitePath string `yaml:"sqlite_path"`
	MaxEntries int    `yaml:"max_entries"`

	ProfileTTL    time.Duration `yaml:"profile_ttl"`
	RelayInfoTTL  time.Duration `yaml:"relay_info_ttl"`
	ReputationTTL time.Duration `yaml:"reputation_ttl"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Backend:       BackendMemory,
		Prefix:        "nostr-feed:",
		SQLitePath:    "nostr-feed.db",
		MaxEntries:    10000,
		ProfileTTL:    24 * time.Hour, // served stale and revalidated, so keep them long
		RelayInfoTTL:  24 * time.Hour,
		ReputationTTL: 6 * time.Hour,
	}
}

// Open creates the backend named by cfg.Backend
func Open(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		slog.Info("using in-memory cache", "max_entries", cfg.MaxEntries)
		return NewMemoryCache(cfg.MaxEntries), nil
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis backend requires redis_url")
		}
		rc, err := NewRedisCache(cfg.RedisURL, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		slog.Info("using redis cache", "prefix", cfg.Prefix)
		return rc, nil
	case BackendSQLite:
		sc, err := NewSQLiteCache(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("using sqlite cache", "path", cfg.SQLitePath)
		return sc, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
