// Package config provides environment-backed configuration for the API
// server and the rating processor. All keys are optional with defaults
// except the database; misconfiguration is returned as an error so the
// entry points can exit non-zero.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr       = ":8080"
	defaultRedisURL         = "redis://127.0.0.1:6379/1"
	defaultKafkaBootstrap   = "localhost:9092"
	defaultRateLimitPerHour = 10000
	defaultAnomalyPenalty   = 0.001
	defaultAnomalyThreshold = 0.8
	defaultMinRateCount     = 10
	defaultAccessLifetime   = time.Hour
	defaultRefreshLifetime  = 24 * time.Hour

	// PageSize is the fixed listing page size.
	PageSize = 20

	// RatingsTopic and the consumer group id are part of the wire contract
	// with the processor; they are deliberately not configurable.
	RatingsTopic  = "ratings"
	ConsumerGroup = "rating_processor_group"
)

// APIConfig configures the HTTP service (ingest + query + auth).
type APIConfig struct {
	ListenAddr       string
	DatabaseURL      string
	RedisURL         string
	KafkaBrokers     []string
	SecretKey        string
	AccessLifetime   time.Duration
	RefreshLifetime  time.Duration
	RateLimitPerHour int
}

// ProcessorConfig configures the rating processor worker.
type ProcessorConfig struct {
	DatabaseURL      string
	RedisURL         string
	KafkaBrokers     []string
	AnomalyPenalty   float64
	AnomalyThreshold float64
	MinRateCount     int
}

// LoadAPI reads the API configuration from the environment.
func LoadAPI() (APIConfig, error) {
	dsn, err := databaseURL()
	if err != nil {
		return APIConfig{}, err
	}
	secret := os.Getenv("SECRET_KEY")
	if secret == "" {
		return APIConfig{}, fmt.Errorf("SECRET_KEY required")
	}
	cfg := APIConfig{
		ListenAddr:       getEnv("LISTEN_ADDR", defaultListenAddr),
		DatabaseURL:      dsn,
		RedisURL:         getEnv("REDIS_URL", defaultRedisURL),
		KafkaBrokers:     parseCSV(getEnv("KAFKA_BOOTSTRAP_SERVERS", defaultKafkaBootstrap)),
		SecretKey:        secret,
		AccessLifetime:   getLifetime("ACCESS_TOKEN_LIFETIME", defaultAccessLifetime),
		RefreshLifetime:  getLifetime("REFRESH_TOKEN_LIFETIME", defaultRefreshLifetime),
		RateLimitPerHour: getInt("RATE_LIMIT_PER_HOUR", defaultRateLimitPerHour),
	}
	if cfg.RateLimitPerHour <= 0 {
		return APIConfig{}, fmt.Errorf("RATE_LIMIT_PER_HOUR must be positive")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return APIConfig{}, fmt.Errorf("KAFKA_BOOTSTRAP_SERVERS must list at least one broker")
	}
	return cfg, nil
}

// LoadProcessor reads the worker configuration from the environment.
func LoadProcessor() (ProcessorConfig, error) {
	dsn, err := databaseURL()
	if err != nil {
		return ProcessorConfig{}, err
	}
	cfg := ProcessorConfig{
		DatabaseURL:      dsn,
		RedisURL:         getEnv("REDIS_URL", defaultRedisURL),
		KafkaBrokers:     parseCSV(getEnv("KAFKA_BOOTSTRAP_SERVERS", defaultKafkaBootstrap)),
		AnomalyPenalty:   getFloat("ANOMALY_WEIGHT_PENALTY", defaultAnomalyPenalty),
		AnomalyThreshold: getFloat("ANOMALY_THRESHOLD", defaultAnomalyThreshold),
		MinRateCount:     getInt("MIN_RATE_COUNT", defaultMinRateCount),
	}
	if cfg.AnomalyPenalty <= 0 || cfg.AnomalyPenalty > 1 {
		return ProcessorConfig{}, fmt.Errorf("ANOMALY_WEIGHT_PENALTY must be in (0,1]")
	}
	if cfg.AnomalyThreshold <= 0 || cfg.AnomalyThreshold >= 1 {
		return ProcessorConfig{}, fmt.Errorf("ANOMALY_THRESHOLD must be in (0,1)")
	}
	if cfg.MinRateCount < 1 {
		return ProcessorConfig{}, fmt.Errorf("MIN_RATE_COUNT must be at least 1")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return ProcessorConfig{}, fmt.Errorf("KAFKA_BOOTSTRAP_SERVERS must list at least one broker")
	}
	return cfg, nil
}

// databaseURL returns a lib/pq DSN. DATABASE_URL may be a full postgres://
// URL, or (matching the legacy deployment) a bare hostname combined with
// POSTGRES_DB / POSTGRES_USER / POSTGRES_PASSWORD.
func databaseURL() (string, error) {
	raw := os.Getenv("DATABASE_URL")
	if strings.Contains(raw, "://") {
		return raw, nil
	}
	host := raw
	if host == "" {
		host = "localhost"
	}
	dbName := getEnv("POSTGRES_DB", "contents_db")
	user := getEnv("POSTGRES_USER", "postgres")
	pass := os.Getenv("POSTGRES_PASSWORD")
	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":5432",
		Path:   "/" + dbName,
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	q := u.Query()
	q.Set("sslmode", getEnv("POSTGRES_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getLifetime accepts either a Go duration string ("90m") or a bare number
// of seconds, which is what the previous deployment exported.
func getLifetime(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
