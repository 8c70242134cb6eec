// Package config loads host configuration from the environment.
//
// Every operational knob, including the archive safety ceilings, lives
// here so deployments can tune them without a rebuild.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all host configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Limits    LimitsConfig
	Surface   SurfaceConfig
	Catalog   CatalogConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8090"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// StorageConfig holds filesystem layout configuration. Staging, installed
// extensions, web storage and the registry database all live under DataDir.
type StorageConfig struct {
	DataDir string `envconfig:"EXTHOST_DATA_DIR" default:"/tmp/exthost-storage"`
	// SideloadDir is scanned for packages at startup. Empty disables it.
	SideloadDir string `envconfig:"EXTHOST_SIDELOAD_DIR" default:""`
}

// LimitsConfig holds archive safety ceilings. Archives exceeding these are
// rejected with a resource-limit failure before or during extraction.
type LimitsConfig struct {
	// ArchiveMaxEntries caps the number of entries a package may contain.
	ArchiveMaxEntries int `envconfig:"ARCHIVE_MAX_ENTRIES" default:"4096"`
	// ArchiveMaxBytes caps total decompressed output, declared and actual.
	ArchiveMaxBytes int64 `envconfig:"ARCHIVE_MAX_BYTES" default:"268435456"`
	// ManifestMaxBytes caps the manifest file size.
	ManifestMaxBytes int64 `envconfig:"MANIFEST_MAX_BYTES" default:"1048576"`
}

// SurfaceConfig holds script context configuration.
type SurfaceConfig struct {
	ScriptTimeout time.Duration `envconfig:"SURFACE_SCRIPT_TIMEOUT" default:"5s"`
	MaxSurfaces   int           `envconfig:"SURFACE_MAX" default:"32"`
}

// CatalogConfig holds remote snippet catalog configuration.
type CatalogConfig struct {
	BaseURL string        `envconfig:"CATALOG_URL" default:""`
	Timeout time.Duration `envconfig:"CATALOG_TIMEOUT" default:"15s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects configurations that would disable the safety ceilings.
func (c *Config) Validate() error {
	if c.Limits.ArchiveMaxEntries <= 0 {
		return fmt.Errorf("invalid config: ARCHIVE_MAX_ENTRIES must be positive")
	}
	if c.Limits.ArchiveMaxBytes <= 0 {
		return fmt.Errorf("invalid config: ARCHIVE_MAX_BYTES must be positive")
	}
	if c.Limits.ManifestMaxBytes <= 0 {
		return fmt.Errorf("invalid config: MANIFEST_MAX_BYTES must be positive")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("invalid config: EXTHOST_DATA_DIR must be set")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			DataDir: "/tmp/exthost-storage",
		},
		Limits: LimitsConfig{
			ArchiveMaxEntries: 4096,
			ArchiveMaxBytes:   268435456,
			ManifestMaxBytes:  1048576,
		},
		Surface: SurfaceConfig{
			ScriptTimeout: 5 * time.Second,
			MaxSurfaces:   32,
		},
		Catalog: CatalogConfig{
			Timeout: 15 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
