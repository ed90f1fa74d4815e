// Package config builds platform configuration from the environment so
// main stays lean.
package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string

	PostgresDSN string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopic   string
}

// RedisConfig carries connection tuning for the Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("DEMURA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("DEMURA_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default - must be overridden in production.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if v := os.Getenv("DEMURA_KAFKA_BROKERS"); v != "" {
		brokers = splitCSV(v)
	}
	topic := os.Getenv("DEMURA_KAFKA_TOPIC")
	if topic == "" {
		topic = "demura.rate-changes"
	}

	return Server{
		Addr:          addr,
		JWTSigningKey: jwtSigningKey,
		PostgresDSN:   os.Getenv("DEMURA_POSTGRES_DSN"),
		RedisURL:      os.Getenv("DEMURA_REDIS_URL"),
		KafkaBrokers:  brokers,
		KafkaTopic:    topic,
	}
}

// Redis returns the Redis config with connection defaults applied.
func (s Server) Redis() RedisConfig {
	return RedisConfig{
		URL:          s.RedisURL,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
