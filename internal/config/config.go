// Package config loads the feed configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nostr-feed/internal/cache"
	"nostr-feed/internal/loader"
	"nostr-feed/internal/lookup"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/pool"
)

// DefaultPath is used when neither a path nor NOSTR_FEED_CONFIG is given
const DefaultPath = "config/feed.yaml"

// Config is the full configuration
type Config struct {
	Relays  RelaysConfig  `yaml:"relays"`
	Pool    pool.Config   `yaml:"pool"`
	Loader  loader.Config `yaml:"loader"`
	Cache   cache.Config  `yaml:"cache"`
	Lookup  lookup.Config `yaml:"lookup"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RelaysConfig holds relay lists by purpose
type RelaysConfig struct {
	Default []string `yaml:"default"`
	Profile []string `yaml:"profile"`
}

// LogConfig selects the log level and output format
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// Default returns the embedded default configuration
func Default() *Config {
	return &Config{
		Relays: RelaysConfig{
			Default: []string{
				"wss://relay.damus.io",
				"wss://relay.nostr.band",
				"wss://relay.primal.net",
				"wss://nos.lol",
				"wss://nostr.mom",
			},
			Profile: []string{
				"wss://relay.nostr.band",
				"wss://purplepag.es",
			},
		},
		Pool:   pool.DefaultConfig(),
		Loader: loader.DefaultConfig(),
		Cache:  cache.DefaultConfig(),
		Lookup: lookup.DefaultConfig(),
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads the configuration at path, or at NOSTR_FEED_CONFIG, or at DefaultPath.
// A missing file yields the defaults; a malformed one is an error.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("NOSTR_FEED_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		// Decoding over the defaults keeps every unset field at its default
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		slog.Debug("loaded configuration", "path", path, "relays", len(cfg.Relays.Default))
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.Backend = cache.BackendRedis
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("NOSTR_RELAYS"); v != "" {
		c.Relays.Default = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects unusable values. Invalid relay URLs are dropped with a warning.
func (c *Config) Validate() error {
	c.Relays.Default = validRelays(c.Relays.Default)
	c.Relays.Profile = validRelays(c.Relays.Profile)
	if len(c.Relays.Default) == 0 {
		return errors.New("config: no usable relays")
	}
	if len(c.Relays.Profile) == 0 {
		c.Relays.Profile = c.Relays.Default
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	switch c.Cache.Backend {
	case "", cache.BackendMemory, cache.BackendRedis, cache.BackendSQLite:
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Loader.Window < 0 || c.Loader.MaxBatch < 0 {
		return errors.New("config: loader window and max_batch must not be negative")
	}
	return nil
}

func validRelays(relays []string) []string {
	out := make([]string, 0, len(relays))
	for _, r := range relays {
		normalized := nostr.NormalizeRelayURL(r)
		if normalized == "" {
			slog.Warn("ignoring invalid relay URL", "relay", r)
			continue
		}
		out = append(out, normalized)
	}
	return out
}
