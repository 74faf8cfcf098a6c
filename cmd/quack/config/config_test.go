package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(nil))
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, filepath.Join(wd, "data", "attachments"), cfg.AttachmentsDir)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 30*time.Second, cfg.TrackerTimeout)
	assert.Equal(t, 3, cfg.TrackerRetries)
	assert.Equal(t, 5*time.Minute, cfg.SuggestTTL)
	assert.False(t, cfg.TrackerEnabled())
}

func TestFromLookup_Values(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"QUACK_ADDR":            "127.0.0.1:9000",
		"QUACK_LOG_LEVEL":       "DEBUG",
		"QUACK_STORAGE":         "Postgres",
		"QUACK_DATABASE_URL":    "postgres://localhost/quack",
		"QUACK_ATTACHMENTS_DIR": "/var/lib/quack/../quack/files",
		"QUACK_MAX_UPLOAD_MB":   "5",
		"QUACK_TRACKER_URL":     "https://tracker.example.com/api",
		"QUACK_TRACKER_TIMEOUT": "2s",
		"QUACK_TRACKER_RETRIES": "0",
		"QUACK_SUGGEST_TTL":     "1m",
	}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "/var/lib/quack/files", cfg.AttachmentsDir)
	assert.Equal(t, int64(5<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 2*time.Second, cfg.TrackerTimeout)
	assert.Zero(t, cfg.TrackerRetries)
	assert.Equal(t, time.Minute, cfg.SuggestTTL)
	assert.True(t, cfg.TrackerEnabled())
}

func TestFromLookup_CollectsAllErrors(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{
		"QUACK_LOG_LEVEL":       "loud",
		"QUACK_STORAGE":         "postgres",
		"QUACK_MAX_UPLOAD_MB":   "lots",
		"QUACK_TRACKER_TIMEOUT": "-1s",
	}))
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 4)
	assert.Contains(t, err.Error(), "QUACK_DATABASE_URL")
	assert.Contains(t, err.Error(), "QUACK_LOG_LEVEL")
}

func TestFromLookup_RejectsUnknownStorage(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{"QUACK_STORAGE": "mongo"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage")
}

func TestFromLookup_DevTokenNeedsMemoryStorage(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{
		"QUACK_STORAGE":      "postgres",
		"QUACK_DATABASE_URL": "postgres://localhost/quack",
		"QUACK_DEV_TOKEN":    "secret",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUACK_DEV_TOKEN")

	cfg, err := FromLookup(lookupFrom(map[string]string{"QUACK_DEV_TOKEN": "secret"}))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.DevToken)
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("QUACK_TEST_ONLY_ADDR=:7000\nQUACK_DEV_TOKEN=from-file\n"), 0o600))
	t.Setenv("QUACK_DEV_TOKEN", "from-env")
	t.Setenv("QUACK_TEST_ONLY_ADDR", "")
	os.Unsetenv("QUACK_TEST_ONLY_ADDR")

	cfg, err := Load(path)
	require.NoError(t, err)

	// existing variables win over the file
	assert.Equal(t, "from-env", cfg.DevToken)
	assert.Equal(t, ":7000", os.Getenv("QUACK_TEST_ONLY_ADDR"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
