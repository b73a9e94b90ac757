package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hray3182/instancegen/internal/window"
)

type Config struct {
	DatabaseURI        string
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	LogLevel           string
	GenerateSchedule   string
	CleanupSchedule    string
	MetricsListen      string
	LockTTL            time.Duration
	WindowDefaultsFile string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	lockTTL, err := time.ParseDuration(getEnvOrDefault("LOCK_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_TTL: %w", err)
	}

	return &Config{
		DatabaseURI:        os.Getenv("DATABASE_URI"),
		RedisAddress:       os.Getenv("REDIS_ADDRESS"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            redisDB,
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		GenerateSchedule:   getEnvOrDefault("GENERATE_SCHEDULE", "@every 1h"),
		CleanupSchedule:    getEnvOrDefault("CLEANUP_SCHEDULE", "0 3 * * *"),
		MetricsListen:      getEnvOrDefault("METRICS_LISTEN", ":9090"),
		LockTTL:            lockTTL,
		WindowDefaultsFile: os.Getenv("WINDOW_DEFAULTS_FILE"),
	}, nil
}

// LoadWindowDefaults reads window defaults from a YAML file. Keys missing from
// the file keep their built-in values; an empty path returns the built-ins.
func LoadWindowDefaults(path string) (window.Defaults, error) {
	defaults := window.DefaultDefaults()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return defaults, fmt.Errorf("read window defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return defaults, fmt.Errorf("parse window defaults %s: %w", path, err)
	}

	candidate := window.ConfigCandidate{
		OrganizationID:         "defaults",
		HotWindowMonthsAhead:   &defaults.HotWindowMonthsAhead,
		HistoryRetentionMonths: &defaults.HistoryRetentionMonths,
		ProcessingPriority:     &defaults.ProcessingPriority,
		MaxInstancesPerRun:     &defaults.MaxInstancesPerRun,
	}
	if err := window.Validate(candidate); err != nil {
		return defaults, fmt.Errorf("window defaults %s: %w", path, err)
	}
	return defaults, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
