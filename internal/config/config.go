package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/padelyzer/tournament-engine/internal/schedule"
)

type Config struct {
	DatabaseDriver string
	DatabaseURL    string
	MigrationsURL  string
	ServerPort     int
	MaxTeams       int
	LogLevel       slog.Level

	Schedule schedule.Config

	// ConfirmCron is a six-field cron spec with seconds.
	ConfirmCron    string
	ConfirmHorizon time.Duration
}

// Load reads a .env file if present and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function, applying
// defaults for unset variables.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	var firstErr error
	num := func(key string, def int) int {
		raw := env(key, strconv.Itoa(def))
		n, err := strconv.Atoi(raw)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s environment variable: %w", key, err)
		}
		return n
	}

	cfg := &Config{
		DatabaseDriver: env("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:    env("DATABASE_URL", "engine.db?_journal_mode=WAL"),
		MigrationsURL:  env("MIGRATIONS_URL", "file://migrations"),
		ServerPort:     num("SERVER_PORT", 8080),
		MaxTeams:       num("MAX_TEAMS", 128),
		ConfirmCron:    env("CONFIRM_CRON", "0 */15 * * * *"),
		ConfirmHorizon: time.Duration(num("CONFIRM_HORIZON_HOURS", 48)) * time.Hour,
	}

	sc := schedule.DefaultConfig()
	sc.SlotDuration = time.Duration(num("SLOT_MINUTES", 90)) * time.Minute
	sc.DayStartHour = num("DAY_START_HOUR", sc.DayStartHour)
	sc.DayEndHour = num("DAY_END_HOUR", sc.DayEndHour)
	sc.RoundSpacing = time.Duration(num("ROUND_SPACING_DAYS", 2)) * 24 * time.Hour
	sc.LocalSearchIterations = num("LOCAL_SEARCH_ITERATIONS", sc.LocalSearchIterations)
	cfg.Schedule = sc
	if firstErr != nil {
		return nil, firstErr
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(env("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL environment variable: %w", err)
	}
	if cfg.DatabaseDriver != "sqlite3" && cfg.DatabaseDriver != "postgres" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be sqlite3 or postgres, got %q", cfg.DatabaseDriver)
	}
	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", cfg.ServerPort)
	}
	if cfg.MaxTeams < 2 {
		return nil, fmt.Errorf("MAX_TEAMS must be at least 2, got %d", cfg.MaxTeams)
	}
	if cfg.ConfirmHorizon <= 0 {
		return nil, fmt.Errorf("CONFIRM_HORIZON_HOURS must be positive")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
