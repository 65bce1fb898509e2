// Package config loads and validates the cache subsystem configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Backend identifies the value-store implementation.
type Backend string

const (
	// BackendMemory keeps values in the in-process sharded store.
	BackendMemory Backend = "memory"
	// BackendRedis keeps values in Redis; the dependency index stays
	// in-process either way.
	BackendRedis Backend = "redis"
)

var validBackends = map[Backend]struct{}{
	BackendMemory: {},
	BackendRedis:  {},
}

// RedisConfig captures the networked backend's connection settings.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// Config mirrors the expected fraiseql-cache TOML schema.
type Config struct {
	Enabled bool `toml:"enabled"`
	// TTL is the per-entry lifetime. Zero disables expiry.
	TTL        duration `toml:"ttl"`
	MaxEntries int      `toml:"max_entries"`
	Shards     int      `toml:"shards"`
	// SchemaPath locates the compiled-schema metadata document.
	SchemaPath string `toml:"schema_path"`
	// CacheListQueries opts list-returning queries into caching.
	CacheListQueries bool `toml:"cache_list_queries"`
	// PublicOperations may be cached without a security scope.
	PublicOperations []string `toml:"public_operations"`
	// TrackedFactTables opt into version-keyed aggregate caching; queries
	// over other fact tables bypass the cache.
	TrackedFactTables []string    `toml:"tracked_fact_tables"`
	Backend           Backend     `toml:"backend"`
	Redis             RedisConfig `toml:"redis"`
}

// duration makes time.Duration round-trip through TOML strings ("30s").
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// TTLDuration returns the configured TTL as a time.Duration.
func (c Config) TTLDuration() time.Duration {
	return time.Duration(c.TTL)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Enabled:    true,
		TTL:        duration(5 * time.Minute),
		MaxEntries: 10000,
		Shards:     16,
		Backend:    BackendMemory,
	}
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	// Strict turns unknown configuration keys into errors.
	Strict bool
}

// Result wraps a loaded configuration alongside any non-fatal warnings.
type Result struct {
	Config   Config
	Warnings []string
}

// Load reads, validates, and defaults a configuration file.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	unknownKeys, err := collectUnknownKeys(data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if len(unknownKeys) > 0 {
		slices.Sort(unknownKeys)
		message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknownKeys, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)
	}

	if err := cfg.Validate(); err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	res.Config = cfg
	return res, nil
}

// Validate checks field constraints and cross-field requirements.
func (c Config) Validate() error {
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be positive, got %d", c.MaxEntries)
	}
	if c.Shards <= 0 {
		return fmt.Errorf("shards must be positive, got %d", c.Shards)
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl must not be negative, got %s", time.Duration(c.TTL))
	}
	if _, ok := validBackends[c.Backend]; !ok {
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}
	if c.Backend == BackendRedis && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when backend is redis")
	}
	for _, table := range c.TrackedFactTables {
		if !strings.HasPrefix(table, "tf_") {
			return fmt.Errorf("tracked_fact_tables entry %q is not a fact table (tf_ prefix)", table)
		}
	}
	return nil
}

func collectUnknownKeys(data []byte) ([]string, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	known := map[string]struct{}{
		"enabled":             {},
		"ttl":                 {},
		"max_entries":         {},
		"shards":              {},
		"schema_path":         {},
		"cache_list_queries":  {},
		"public_operations":   {},
		"tracked_fact_tables": {},
		"backend":             {},
		"redis":               {},
	}

	unknown := make([]string, 0)
	for key := range raw {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}
