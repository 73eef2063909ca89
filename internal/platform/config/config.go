// Package config builds runtime configuration from the environment so main
// stays lean. Per-TLD registry policy is configured separately through the
// registry package's YAML loader.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
	// PolicyPath points at the per-TLD policy YAML; empty runs on defaults.
	PolicyPath string
	// SuperuserToken authorizes registry-operator requests. Empty disables
	// the override entirely.
	SuperuserToken string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// RedisConfig captures connection settings for the replay guard.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig captures the resource store connection.
type PostgresConfig struct {
	// URL is a lib/pq connection string; empty selects the in-memory store.
	URL string
}

// KafkaConfig captures the history stream destination.
type KafkaConfig struct {
	// Brokers is the seed broker list; empty disables the Kafka sink.
	Brokers []string
	Topic   string
}

// Config is the full runtime configuration.
type Config struct {
	Server   Server
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:              envOr("REGISTRYD_ADDR", ":8080"),
			PolicyPath:        os.Getenv("REGISTRYD_POLICY_PATH"),
			SuperuserToken:    os.Getenv("REGISTRYD_SUPERUSER_TOKEN"),
			ReadHeaderTimeout: envDurationOr("REGISTRYD_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       envDurationOr("REGISTRYD_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      envDurationOr("REGISTRYD_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       envDurationOr("REGISTRYD_IDLE_TIMEOUT", time.Minute),
			ShutdownTimeout:   envDurationOr("REGISTRYD_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REGISTRYD_REDIS_URL"),
			PoolSize:     envIntOr("REGISTRYD_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REGISTRYD_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("REGISTRYD_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("REGISTRYD_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("REGISTRYD_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("REGISTRYD_POSTGRES_URL"),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("REGISTRYD_KAFKA_BROKERS")),
			Topic:   envOr("REGISTRYD_KAFKA_TOPIC", "registry.history"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
