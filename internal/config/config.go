// Package config loads service settings from environment variables and
// the per-entity monitoring definitions from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	EntitiesFile string
	StateDBPath  string

	KafkaBrokers    []string
	KafkaAlertTopic string
	KafkaFeedTopic  string

	CycleSchedule string
	FetchTimeout  time.Duration
	Workers       int
	TrendWindow   time.Duration

	// User-Agent sent to upstream APIs; NWS additionally requires a
	// contact address in it.
	UserAgent string

	// NWS forecast configuration.
	ForecastEnabled bool
	ForecastDays    int
	ForecastTTL     time.Duration
	NWSContact      string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	trendWindow, err := parseDuration("TREND_WINDOW", "8h")
	if err != nil {
		return nil, err
	}
	forecastTTL, err := parseDuration("FORECAST_TTL", "1h")
	if err != nil {
		return nil, err
	}

	workers, err := parseInt("WORKERS", 4)
	if err != nil {
		return nil, err
	}
	forecastDays, err := parseInt("FORECAST_DAYS", 3)
	if err != nil {
		return nil, err
	}

	nwsContact := os.Getenv("NWS_CONTACT")
	forecastEnabled := nwsContact != ""
	if v := os.Getenv("FORECAST_ENABLED"); v != "" {
		forecastEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		EntitiesFile: envOrDefault("ENTITIES_FILE", "entities.yaml"),
		StateDBPath:  envOrDefault("STATE_DB_PATH", "data/state.db"),

		KafkaBrokers:    splitBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaAlertTopic: envOrDefault("KAFKA_ALERT_TOPIC", "river-alerts"),
		KafkaFeedTopic:  envOrDefault("KAFKA_FEED_TOPIC", "gauge-feed"),

		CycleSchedule: envOrDefault("CYCLE_SCHEDULE", "@every 15m"),
		FetchTimeout:  fetchTimeout,
		Workers:       workers,
		TrendWindow:   trendWindow,

		UserAgent: envOrDefault("HTTP_USER_AGENT", "river-alert-service"),

		ForecastEnabled: forecastEnabled,
		ForecastDays:    forecastDays,
		ForecastTTL:     forecastTTL,
		NWSContact:      nwsContact,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaAlertTopic == "" {
		return nil, errors.New("KAFKA_ALERT_TOPIC is required")
	}
	if cfg.KafkaFeedTopic == "" {
		return nil, errors.New("KAFKA_FEED_TOPIC is required")
	}
	if cfg.Workers < 1 {
		return nil, errors.New("WORKERS must be at least 1")
	}
	if cfg.ForecastDays < 1 || cfg.ForecastDays > 7 {
		return nil, errors.New("FORECAST_DAYS must be between 1 and 7")
	}
	if cfg.ForecastEnabled && cfg.NWSContact == "" {
		return nil, errors.New("FORECAST_ENABLED is true but NWS_CONTACT is not set")
	}
	if _, err := cron.ParseStandard(cfg.CycleSchedule); err != nil {
		return nil, fmt.Errorf("invalid CYCLE_SCHEDULE %q: %w", cfg.CycleSchedule, err)
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
