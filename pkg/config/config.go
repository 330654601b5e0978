// Package config loads the orchestrator's environment-variable configuration
// surface: typed parsing with production defaults, then a single Validate
// pass.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the umbrella configuration object covering every external
// dependency this service has.
type Config struct {
	AppPort   string
	LogLevel  string
	LogFormat string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	KafkaBootstrapServers []string
	KafkaConsumerGroup    string
	KafkaTopics           []string

	MCPServerURL     string
	MCPServerTimeout time.Duration

	CORSOrigins []string
}

// LoadFromEnv loads configuration from the environment with validation and
// production-ready defaults.
func LoadFromEnv() (*Config, error) {
	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	sessionTTL, err := parseDuration(getEnvOrDefault("SESSION_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}

	mcpTimeout, err := parseDuration(getEnvOrDefault("MCP_SERVER_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid MCP_SERVER_TIMEOUT: %w", err)
	}

	cfg := &Config{
		AppPort:   getEnvOrDefault("APP_PORT", "8080"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		SessionTTL:    sessionTTL,

		KafkaBootstrapServers: splitCSV(getEnvOrDefault("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
		KafkaConsumerGroup:    getEnvOrDefault("KAFKA_CONSUMER_GROUP", "conversation-orchestrator"),
		KafkaTopics:           splitCSV(getEnvOrDefault("KAFKA_TOPICS", "project-updates,conversation-events")),

		MCPServerURL:     getEnvOrDefault("MCP_SERVER_URL", "http://localhost:9000"),
		MCPServerTimeout: mcpTimeout,

		CORSOrigins: splitCSV(getEnvOrDefault("CORS_ORIGINS", "*")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that must hold before any component starts.
func (c *Config) Validate() error {
	if c.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must be non-negative, got %d", c.RedisDB)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.MCPServerTimeout <= 0 {
		return fmt.Errorf("MCP_SERVER_TIMEOUT must be positive, got %s", c.MCPServerTimeout)
	}
	if c.MCPServerURL == "" {
		return fmt.Errorf("MCP_SERVER_URL is required")
	}
	if len(c.KafkaBootstrapServers) == 0 {
		return fmt.Errorf("KAFKA_BOOTSTRAP_SERVERS is required")
	}
	return nil
}

// RedisAddr returns the host:port pair for go-redis's Options.Addr.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
