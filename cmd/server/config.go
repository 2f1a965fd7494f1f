package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/email"
	"tangled.org/arabica.social/arbiter/internal/moderation"
)

const (
	defaultPort          = "18920"
	defaultRateLimit     = 120
	defaultRateLimitIdle = 10 * time.Minute
)

// config is the process configuration, read from the environment
type config struct {
	Port             string
	Store            string // bolt or sqlite
	DBPath           string
	ModeratorsConfig string
	JWTSecret        string
	SweepInterval    time.Duration
	RateLimit        int // requests per minute per client IP, 0 disables

	ContentURL string

	RedisURL     string
	RedisChannel string
	NATSURL      string
	NATSSubject  string
	SMTP         email.Config

	OTLPEndpoint string
}

// loadConfig reads the configuration through getenv so tests can supply
// their own environment.
func loadConfig(getenv func(string) string) (*config, error) {
	cfg := &config{
		Port:             getenv("PORT"),
		Store:            getenv("ARBITER_STORE"),
		DBPath:           getenv("ARBITER_DB_PATH"),
		ModeratorsConfig: getenv("ARBITER_MODERATORS_CONFIG"),
		JWTSecret:        getenv("ARBITER_JWT_SECRET"),
		ContentURL:       getenv("ARBITER_CONTENT_URL"),
		RedisURL:         getenv("ARBITER_REDIS_URL"),
		RedisChannel:     getenv("ARBITER_REDIS_CHANNEL"),
		NATSURL:          getenv("ARBITER_NATS_URL"),
		NATSSubject:      getenv("ARBITER_NATS_SUBJECT"),
		OTLPEndpoint:     getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SMTP: email.Config{
			Host: getenv("SMTP_HOST"),
			User: getenv("SMTP_USER"),
			Pass: getenv("SMTP_PASS"),
			From: getenv("SMTP_FROM"),
		},
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("ARBITER_JWT_SECRET is required")
	}

	switch cfg.Store {
	case "":
		cfg.Store = "bolt"
	case "bolt", "sqlite":
	default:
		return nil, fmt.Errorf("ARBITER_STORE must be bolt or sqlite, got %q", cfg.Store)
	}
	if cfg.DBPath == "" {
		path, err := defaultDBPath(getenv, cfg.Store)
		if err != nil {
			return nil, err
		}
		cfg.DBPath = path
	}

	cfg.SweepInterval = moderation.DefaultSweepInterval
	if raw := getenv("ARBITER_SWEEP_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("ARBITER_SWEEP_INTERVAL must be a positive duration, got %q", raw)
		}
		cfg.SweepInterval = d
	}

	cfg.RateLimit = defaultRateLimit
	if raw := getenv("ARBITER_RATE_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("ARBITER_RATE_LIMIT must be a non-negative integer, got %q", raw)
		}
		cfg.RateLimit = n
	}

	cfg.SMTP.Port = 587
	if raw := getenv("SMTP_PORT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("SMTP_PORT must be an integer, got %q", raw)
		}
		cfg.SMTP.Port = n
	}

	return cfg, nil
}

// defaultDBPath puts the database under the XDG data directory, or
// ~/.local/share when that is unset.
func defaultDBPath(getenv func(string) string, store string) (string, error) {
	dataDir := getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	name := "arbiter.db"
	if store == "sqlite" {
		name = "arbiter.sqlite"
	}
	return filepath.Join(dataDir, "arbiter", name), nil
}

// setupLogging configures the global logger. Unknown levels fall back to info;
// format "json" writes JSON lines, anything else pretty console output.
func setupLogging(level, format string, out io.Writer) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	}
}
