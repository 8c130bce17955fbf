package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/tawriver/floodwatch/services/internal/ea"
	"github.com/tawriver/floodwatch/services/internal/refresh"
)

// Config holds environment-driven settings for the refresh/serve process.
type Config struct {
	Port           int
	BindAddr       string
	DataDir        string
	SiteDir        string
	StationsFile   string
	SourceBaseURL  string
	RequestTimeout time.Duration
	FetchRetries   int
	MinInterval    time.Duration
	DatabaseURL    string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Port:           8080,
		DataDir:        "data",
		SiteDir:        ".",
		SourceBaseURL:  ea.DefaultBaseURL,
		RequestTimeout: 10 * time.Second,
		FetchRetries:   ea.DefaultRetries,
		MinInterval:    refresh.DefaultMinInterval,
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := os.Getenv("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	cfg.BindAddr = os.Getenv("BIND_ADDR")

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if dir := os.Getenv("SITE_DIR"); dir != "" {
		cfg.SiteDir = dir
	}
	cfg.StationsFile = os.Getenv("STATIONS_FILE")

	if base := os.Getenv("EA_API_BASE"); base != "" {
		cfg.SourceBaseURL = base
	}

	if timeoutStr := os.Getenv("REFRESH_REQUEST_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil && d > 0 {
			cfg.RequestTimeout = d
		} else {
			return cfg, fmt.Errorf("invalid REFRESH_REQUEST_TIMEOUT: %s", timeoutStr)
		}
	}

	if retriesStr := os.Getenv("FETCH_RETRIES"); retriesStr != "" {
		if n, err := strconv.Atoi(retriesStr); err == nil && n > 0 {
			cfg.FetchRetries = n
		} else {
			return cfg, fmt.Errorf("invalid FETCH_RETRIES: %s", retriesStr)
		}
	}

	if intervalStr := os.Getenv("REFRESH_MIN_INTERVAL"); intervalStr != "" {
		if d, err := time.ParseDuration(intervalStr); err == nil && d > 0 {
			cfg.MinInterval = d
		} else {
			return cfg, fmt.Errorf("invalid REFRESH_MIN_INTERVAL: %s", intervalStr)
		}
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}
