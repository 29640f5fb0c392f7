package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql. Required.
	DatabaseURL string

	// GracePeriod is how long a grace activation extends write access.
	// Defaults to 72 hours.
	GracePeriod time.Duration

	// SweepSchedule is the cron expression for the periodic billing sweep
	// enqueue. Defaults to "@hourly". The sweep is an optimization: billing
	// correctness relies on lazy charging at write-access checks.
	SweepSchedule string

	// DisableTransactions forces the best-effort (non-transactional) write
	// path regardless of what the capability probe reports. Meant for
	// constrained deployments behind pooled connections.
	DisableTransactions bool
}

const (
	defaultServerAddress = ":18111"
	defaultGraceHours    = 72
	defaultSweepSchedule = "@hourly"
	envServerAddress     = "BACKEND_ADDR"
	envDatabaseURL       = "DATABASE_URL"
	envGraceHours        = "GRACE_PERIOD_HOURS"
	envSweepSchedule     = "BILLING_SWEEP_SCHEDULE"
	envDisableTx         = "BILLING_DISABLE_TX"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress: firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:   os.Getenv(envDatabaseURL),
		GracePeriod:   defaultGraceHours * time.Hour,
		SweepSchedule: firstNonEmpty(os.Getenv(envSweepSchedule), defaultSweepSchedule),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}

	if value := os.Getenv(envGraceHours); value != "" {
		hours, err := strconv.Atoi(value)
		if err != nil || hours <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envGraceHours, value)
		}
		cfg.GracePeriod = time.Duration(hours) * time.Hour
	}

	switch os.Getenv(envDisableTx) {
	case "1", "true", "yes":
		cfg.DisableTransactions = true
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
