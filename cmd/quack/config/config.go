package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/greatbit/quack/util"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Addr           string
	LogLevel       zerolog.Level
	Storage        string
	DatabaseURL    string
	AttachmentsDir string
	MaxUploadBytes int64

	TrackerURL     string
	TrackerToken   string
	TrackerTimeout time.Duration
	TrackerRetries int
	SuggestTTL     time.Duration

	// DevToken seeds an admin session when sessions are kept in memory
	DevToken string
}

// Load reads the .env file at path, when present, and then the environment
func Load(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading %s: %w", path, err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from a variable lookup function.
// All invalid values are reported together.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	var errs *multierror.Error

	get := func(name, def string) string {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	getInt := func(name string, def int) int {
		raw := get(name, "")
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s: %q is not a non-negative integer", name, raw))
			return def
		}
		return n
	}
	getDuration := func(name string, def time.Duration) time.Duration {
		raw := get(name, "")
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s: %q is not a valid duration", name, raw))
			return def
		}
		return d
	}

	cfg := &Config{
		Addr:           get("QUACK_ADDR", ":8080"),
		Storage:        strings.ToLower(get("QUACK_STORAGE", StorageMemory)),
		DatabaseURL:    get("QUACK_DATABASE_URL", ""),
		MaxUploadBytes: int64(getInt("QUACK_MAX_UPLOAD_MB", 32)) << 20,
		TrackerURL:     get("QUACK_TRACKER_URL", ""),
		TrackerToken:   get("QUACK_TRACKER_TOKEN", ""),
		TrackerTimeout: getDuration("QUACK_TRACKER_TIMEOUT", 30*time.Second),
		TrackerRetries: getInt("QUACK_TRACKER_RETRIES", 3),
		SuggestTTL:     getDuration("QUACK_SUGGEST_TTL", 5*time.Minute),
		DevToken:       get("QUACK_DEV_TOKEN", ""),
	}

	level, err := zerolog.ParseLevel(strings.ToLower(get("QUACK_LOG_LEVEL", "info")))
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("QUACK_LOG_LEVEL: %w", err))
		level = zerolog.InfoLevel
	}
	cfg.LogLevel = level

	dir, err := util.GetAbsolutePath(get("QUACK_ATTACHMENTS_DIR", "data/attachments"))
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("QUACK_ATTACHMENTS_DIR: %w", err))
	}
	cfg.AttachmentsDir = dir

	switch cfg.Storage {
	case StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			errs = multierror.Append(errs, errors.New("QUACK_DATABASE_URL is required for postgres storage"))
		}
		if cfg.DevToken != "" {
			errs = multierror.Append(errs, errors.New("QUACK_DEV_TOKEN is only supported with memory storage"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("QUACK_STORAGE: unknown storage %q", cfg.Storage))
	}

	if cfg.MaxUploadBytes == 0 {
		errs = multierror.Append(errs, errors.New("QUACK_MAX_UPLOAD_MB must be greater than zero"))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TrackerEnabled reports whether an issue tracker is configured
func (c *Config) TrackerEnabled() bool {
	return c.TrackerURL != ""
}
