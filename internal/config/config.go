// Package config provides configuration management for the entity info
// resolver. Settings start from built-in defaults, are then read from an
// optional YAML file and finally overridden by environment variables with the
// ENTITYINFO_ prefix.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nyurik/mediawiki-extensions-Wikibase/internal/storage"
	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all configuration settings.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Source  SourceConfig  `yaml:"source"`
	Cache   CacheConfig   `yaml:"cache"`
	Guard   GuardConfig   `yaml:"guard"`
	Events  EventsConfig  `yaml:"events"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string `yaml:"engine"`       // Storage engine type: sqlite, postgres (default: sqlite)
	DataPath      string `yaml:"data_path"`    // Path to data directory (default: ./data)
	PostgresDSN   string `yaml:"postgres_dsn"` // PostgreSQL connection string, required for postgres

	// ConnectionsPath points to a connections file describing several entity
	// sources. When set it takes precedence over the single source below.
	ConnectionsPath string `yaml:"connections_path"`
}

// SourceConfig describes the entity source served by the default store.
type SourceConfig struct {
	Name        string         `yaml:"name"`         // Source name used in logs (default: local)
	EntityTypes []string       `yaml:"entity_types"` // Served entity types (default: item, property)
	Repository  string         `yaml:"repository"`   // Id prefix of the served entities (default: none)
	Namespaces  map[string]int `yaml:"namespaces"`   // Page namespace per entity type
}

// CacheConfig contains term cache settings.
type CacheConfig struct {
	Size int           `yaml:"size"` // Maximum number of cached terms (default: 100000)
	TTL  time.Duration `yaml:"ttl"`  // Lifetime of cached terms (default: 60s)
}

// GuardConfig contains store rate limiting and circuit breaker settings.
type GuardConfig struct {
	RequestsPerSecond  float64       `yaml:"requests_per_second"`  // Store round trips per second, 0 disables (default: 0)
	Burst              int           `yaml:"burst"`                // Round trips allowed at once (default: 10)
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"` // Consecutive failures that open the breaker (default: 5)
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`      // Time the breaker stays open (default: 30s)
}

// EventsConfig contains entity change notification settings.
type EventsConfig struct {
	// Path is the directory watched for change events. Empty disables
	// event-driven cache invalidation.
	Path string `yaml:"path"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      "./data",
		},
		Source: SourceConfig{
			Name:        "local",
			EntityTypes: []string{types.EntityTypeItem, types.EntityTypeProperty},
			Namespaces:  copyNamespaces(storage.DefaultNamespaces),
		},
		Cache: CacheConfig{
			Size: 100_000,
			TTL:  60 * time.Second,
		},
		Guard: GuardConfig{
			Burst:              10,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
	}
}

// LoadConfig loads the configuration. An empty path skips the YAML file.
// Environment variables override values from the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Storage.StorageEngine = getEnv("ENTITYINFO_STORAGE_ENGINE", cfg.Storage.StorageEngine)
	cfg.Storage.DataPath = getEnv("ENTITYINFO_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("ENTITYINFO_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.ConnectionsPath = getEnv("ENTITYINFO_CONNECTIONS_PATH", cfg.Storage.ConnectionsPath)

	cfg.Source.Name = getEnv("ENTITYINFO_SOURCE_NAME", cfg.Source.Name)
	cfg.Source.EntityTypes = getEnvList("ENTITYINFO_ENTITY_TYPES", cfg.Source.EntityTypes)
	cfg.Source.Repository = getEnv("ENTITYINFO_REPOSITORY", cfg.Source.Repository)
	if value := os.Getenv("ENTITYINFO_NAMESPACES"); value != "" {
		namespaces, err := ParseNamespaces(value)
		if err != nil {
			return err
		}
		cfg.Source.Namespaces = namespaces
	}

	cfg.Cache.Size = getEnvInt("ENTITYINFO_CACHE_SIZE", cfg.Cache.Size)
	cfg.Cache.TTL = getEnvDuration("ENTITYINFO_CACHE_TTL", cfg.Cache.TTL)

	cfg.Guard.RequestsPerSecond = getEnvFloat("ENTITYINFO_STORE_RPS", cfg.Guard.RequestsPerSecond)
	cfg.Guard.Burst = getEnvInt("ENTITYINFO_STORE_BURST", cfg.Guard.Burst)
	cfg.Guard.BreakerMaxFailures = uint32(getEnvInt("ENTITYINFO_BREAKER_MAX_FAILURES", int(cfg.Guard.BreakerMaxFailures)))
	cfg.Guard.BreakerTimeout = getEnvDuration("ENTITYINFO_BREAKER_TIMEOUT", cfg.Guard.BreakerTimeout)

	cfg.Events.Path = getEnv("ENTITYINFO_EVENTS_PATH", cfg.Events.Path)
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" && c.Storage.ConnectionsPath == "" {
			return fmt.Errorf("%w: postgres engine requires ENTITYINFO_POSTGRES_DSN", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage engine %q", ErrInvalidConfig, c.Storage.StorageEngine)
	}

	if len(c.Source.EntityTypes) == 0 {
		return fmt.Errorf("%w: no entity types", ErrInvalidConfig)
	}
	for _, t := range c.Source.EntityTypes {
		if !types.IsValidEntityType(t) {
			return fmt.Errorf("%w: unknown entity type %q", ErrInvalidConfig, t)
		}
		if _, ok := c.Source.Namespaces[t]; !ok {
			return fmt.Errorf("%w: no namespace for entity type %q", ErrInvalidConfig, t)
		}
	}
	if strings.ContainsAny(c.Source.Repository, ": \t") {
		return fmt.Errorf("%w: repository %q", ErrInvalidConfig, c.Source.Repository)
	}

	if c.Cache.Size <= 0 {
		return fmt.Errorf("%w: cache size must be positive, got %d", ErrInvalidConfig, c.Cache.Size)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("%w: cache ttl must be positive, got %s", ErrInvalidConfig, c.Cache.TTL)
	}
	if c.Guard.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests per second must not be negative", ErrInvalidConfig)
	}
	if c.Guard.RequestsPerSecond > 0 && c.Guard.Burst <= 0 {
		return fmt.Errorf("%w: burst must be positive when rate limiting", ErrInvalidConfig)
	}
	if c.Guard.BreakerMaxFailures == 0 {
		return fmt.Errorf("%w: breaker max failures must be positive", ErrInvalidConfig)
	}
	return nil
}

// ParseNamespaces parses "item=120,property=122".
func ParseNamespaces(value string) (map[string]int, error) {
	out := map[string]int{}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, ns, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: namespace %q is not type=number", ErrInvalidConfig, pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(ns))
		if err != nil {
			return nil, fmt.Errorf("%w: namespace %q: %v", ErrInvalidConfig, pair, err)
		}
		out[strings.TrimSpace(name)] = n
	}
	return out, nil
}

func copyNamespaces(in storage.NamespaceLookup) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") and plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
