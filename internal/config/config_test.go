package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 1024, cfg.CacheCapacity)
	assert.Equal(t, 4, cfg.FanoutWorkers)
	assert.Equal(t, 20, cfg.NameLength)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
database: /var/lib/viewfold/log.db
log_level: debug
cache_capacity: 64
fanout_workers: 8
name_length: 12
poll_interval: 250ms
`))
	require.NoError(t, err)
	assert.Equal(t, Config{
		Database:      "/var/lib/viewfold/log.db",
		LogLevel:      "debug",
		CacheCapacity: 64,
		FanoutWorkers: 8,
		NameLength:    12,
		PollInterval:  250 * time.Millisecond,
	}, cfg)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero capacity", "cache_capacity: 0", "cache_capacity"},
		{"negative workers", "fanout_workers: -1", "fanout_workers"},
		{"zero name length", "name_length: 0", "name_length"},
		{"bad level", "log_level: loud", "log_level"},
		{"empty database", `database: ""`, "database"},
		{"negative poll", "poll_interval: -1s", "poll_interval"},
		{"unknown key", "cache_size: 10", "cache_size"},
		{"malformed", "cache_capacity: [", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewfold.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name_length: 8\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.NameLength)
	assert.Equal(t, DefaultDatabase, cfg.Database)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}
