package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tawriver/floodwatch/services/internal/ea"
)

const (
	defaultDataDir        = "data"
	defaultRequestTimeout = ea.DefaultTimeout
)

// Config holds runtime configuration for the backfill watcher.
type Config struct {
	DataDir        string
	StationsFile   string
	SourceBaseURL  string
	RequestTimeout time.Duration
	FetchRetries   int
	DatabaseURL    string
	DryRun         bool
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.DataDir = strings.TrimSpace(os.Getenv("DATA_DIR"))
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}

	cfg.StationsFile = strings.TrimSpace(os.Getenv("STATIONS_FILE"))

	cfg.SourceBaseURL = strings.TrimSpace(os.Getenv("EA_API_BASE"))
	if cfg.SourceBaseURL == "" {
		cfg.SourceBaseURL = ea.DefaultBaseURL
	}

	cfg.RequestTimeout = defaultRequestTimeout
	if v := strings.TrimSpace(os.Getenv("WATCHER_REQUEST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid WATCHER_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}

	cfg.FetchRetries = ea.DefaultRetries
	if v := strings.TrimSpace(os.Getenv("FETCH_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid FETCH_RETRIES: %w", err)
		}
		if n <= 0 {
			return cfg, fmt.Errorf("invalid FETCH_RETRIES: %d", n)
		}
		cfg.FetchRetries = n
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	return cfg, nil
}
