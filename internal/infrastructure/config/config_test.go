package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Storage config
	assert.Equal(t, "/tmp/exthost-storage", cfg.Storage.DataDir)
	assert.Empty(t, cfg.Storage.SideloadDir)

	// Archive ceilings
	assert.Equal(t, 4096, cfg.Limits.ArchiveMaxEntries)
	assert.Equal(t, int64(268435456), cfg.Limits.ArchiveMaxBytes)
	assert.Equal(t, int64(1048576), cfg.Limits.ManifestMaxBytes)

	// Surface config
	assert.Equal(t, 5*time.Second, cfg.Surface.ScriptTimeout)
	assert.Equal(t, 32, cfg.Surface.MaxSurfaces)

	// Catalog config
	assert.Empty(t, cfg.Catalog.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Catalog.Timeout)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	// Should return default when no env vars set
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                   "9000",
		"HOST":                   "127.0.0.1",
		"EXTHOST_DATA_DIR":       "/data/exthost",
		"EXTHOST_SIDELOAD_DIR":   "/data/sideload",
		"ARCHIVE_MAX_ENTRIES":    "128",
		"ARCHIVE_MAX_BYTES":      "1048576",
		"MANIFEST_MAX_BYTES":     "65536",
		"SURFACE_SCRIPT_TIMEOUT": "2s",
		"SURFACE_MAX":            "4",
		"CATALOG_URL":            "https://snippets.example.com",
		"CATALOG_TIMEOUT":        "30s",
		"LOG_LEVEL":              "debug",
		"LOG_DEV":                "true",
		"RATE_LIMIT_RPS":         "500",
		"RATE_LIMIT_BURST":       "1000",
		"RATE_LIMIT_ENABLED":     "false",
	}

	for key, value := range envVars {
		err := os.Setenv(key, value)
		require.NoError(t, err)
		defer os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	assert.Equal(t, "/data/exthost", cfg.Storage.DataDir)
	assert.Equal(t, "/data/sideload", cfg.Storage.SideloadDir)

	assert.Equal(t, 128, cfg.Limits.ArchiveMaxEntries)
	assert.Equal(t, int64(1048576), cfg.Limits.ArchiveMaxBytes)
	assert.Equal(t, int64(65536), cfg.Limits.ManifestMaxBytes)

	assert.Equal(t, 2*time.Second, cfg.Surface.ScriptTimeout)
	assert.Equal(t, 4, cfg.Surface.MaxSurfaces)

	assert.Equal(t, "https://snippets.example.com", cfg.Catalog.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Catalog.Timeout)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 1000, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	err := os.Setenv("PORT", "3000")
	require.NoError(t, err)
	defer os.Unsetenv("PORT")

	err = os.Setenv("LOG_LEVEL", "warn")
	require.NoError(t, err)
	defer os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)

	// Verify overridden values
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)

	// Verify default values still apply
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 4096, cfg.Limits.ArchiveMaxEntries)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLimitsConfig(t *testing.T) {
	tests := []struct {
		name        string
		entries     string
		bytes       string
		wantEntries int
		wantBytes   int64
	}{
		{
			name:        "default values",
			entries:     "",
			bytes:       "",
			wantEntries: 4096,
			wantBytes:   268435456,
		},
		{
			name:        "tightened ceilings",
			entries:     "64",
			bytes:       "524288",
			wantEntries: 64,
			wantBytes:   524288,
		},
		{
			name:        "entries only",
			entries:     "1000",
			bytes:       "",
			wantEntries: 1000,
			wantBytes:   268435456,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("ARCHIVE_MAX_ENTRIES")
			os.Unsetenv("ARCHIVE_MAX_BYTES")

			if tt.entries != "" {
				err := os.Setenv("ARCHIVE_MAX_ENTRIES", tt.entries)
				require.NoError(t, err)
				defer os.Unsetenv("ARCHIVE_MAX_ENTRIES")
			}
			if tt.bytes != "" {
				err := os.Setenv("ARCHIVE_MAX_BYTES", tt.bytes)
				require.NoError(t, err)
				defer os.Unsetenv("ARCHIVE_MAX_BYTES")
			}

			cfg := LoadOrDefault()

			assert.Equal(t, tt.wantEntries, cfg.Limits.ArchiveMaxEntries)
			assert.Equal(t, tt.wantBytes, cfg.Limits.ArchiveMaxBytes)
		})
	}
}

func TestValidateRejectsDisabledCeilings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "zero archive entries",
			mutate: func(c *Config) { c.Limits.ArchiveMaxEntries = 0 },
		},
		{
			name:   "negative archive bytes",
			mutate: func(c *Config) { c.Limits.ArchiveMaxBytes = -1 },
		},
		{
			name:   "zero manifest bytes",
			mutate: func(c *Config) { c.Limits.ManifestMaxBytes = 0 },
		},
		{
			name:   "empty data dir",
			mutate: func(c *Config) { c.Storage.DataDir = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsDefault(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
