// Package config provides configuration for the distribution service
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the distribution service
type Config struct {
	// Env selects the log encoder: "dev" or anything else for JSON
	Env string

	// Server settings
	Server ServerConfig

	// Neo4j settings
	Neo4j Neo4jConfig

	// Redis settings, optional
	Redis RedisConfig

	// Service settings
	Service ServiceConfig
}

// ServerConfig holds gRPC and metrics server configuration
type ServerConfig struct {
	Host            string
	Port            int
	MetricsPort     int
	MaxRecvMsgSize  int
	MaxSendMsgSize  int
	ShutdownTimeout time.Duration
}

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// RedisConfig holds the bind throttle counter store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	// Ancestors kept per node and deepest commission relation
	HierarchyDepth int
	// Hops the statistics pipeline walks upward from a recruiter
	StatsPropagationDepth int
	// Upper bound on parent-chain walks during cycle checks
	MaxChainWalk int
	// Statistics retries after the first failed attempt
	StatsMaxRetries uint64
	// First statistics backoff interval, doubled on each retry
	StatsBackoffBase time.Duration
	// Statistics jobs buffered before new ones are dropped
	StatsQueueSize int
	// Goroutines in the shared worker pool
	Workers int
	// Deterministic-prefix attempts before falling back to random invite codes
	InviteCodeAttempts int
	// Delay between order completion and settlement
	SettlementCoolingOff time.Duration
	// Bind attempts allowed per recruit within BindAttemptWindow
	BindAttemptLimit  int
	BindAttemptWindow time.Duration
}

// DefaultServiceConfig returns the settings used when no env override is given
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		HierarchyDepth:        3,
		StatsPropagationDepth: 3,
		MaxChainWalk:          64,
		StatsMaxRetries:       3,
		StatsBackoffBase:      time.Second,
		StatsQueueSize:        1024,
		Workers:               8,
		InviteCodeAttempts:    20,
		SettlementCoolingOff:  7 * 24 * time.Hour,
		BindAttemptLimit:      10,
		BindAttemptWindow:     time.Hour,
	}
}

// Load loads configuration from environment variables, reading a .env file first if present
func Load() (*Config, error) {
	_ = godotenv.Load()

	def := DefaultServiceConfig()
	cfg := &Config{
		Env: getEnv("DISTRIBUTION_ENV", "prod"),
		Server: ServerConfig{
			Host:            getEnv("DISTRIBUTION_SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("DISTRIBUTION_SERVER_PORT", 50061),
			MetricsPort:     getEnvInt("DISTRIBUTION_METRICS_PORT", 9161),
			MaxRecvMsgSize:  getEnvInt("DISTRIBUTION_MAX_RECV_MSG_SIZE", 4*1024*1024), // 4MB
			MaxSendMsgSize:  getEnvInt("DISTRIBUTION_MAX_SEND_MSG_SIZE", 4*1024*1024), // 4MB
			ShutdownTimeout: time.Duration(getEnvInt("DISTRIBUTION_SHUTDOWN_TIMEOUT_SECS", 30)) * time.Second,
		},
		Neo4j: Neo4jConfig{
			URI:      getEnv("NEO4J_URI", "bolt://localhost:7687"),
			Username: getEnv("NEO4J_USERNAME", "neo4j"),
			Password: getEnv("NEO4J_PASSWORD", ""),
			Database: getEnv("NEO4J_DATABASE", "neo4j"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Service: ServiceConfig{
			HierarchyDepth:        getEnvInt("DISTRIBUTION_HIERARCHY_DEPTH", def.HierarchyDepth),
			StatsPropagationDepth: getEnvInt("DISTRIBUTION_STATS_DEPTH", def.StatsPropagationDepth),
			MaxChainWalk:          getEnvInt("DISTRIBUTION_MAX_CHAIN_WALK", def.MaxChainWalk),
			StatsMaxRetries:       uint64(getEnvInt("DISTRIBUTION_STATS_MAX_RETRIES", int(def.StatsMaxRetries))),
			StatsBackoffBase:      getEnvDuration("DISTRIBUTION_STATS_BACKOFF_BASE", def.StatsBackoffBase),
			StatsQueueSize:        getEnvInt("DISTRIBUTION_STATS_QUEUE_SIZE", def.StatsQueueSize),
			Workers:               getEnvInt("DISTRIBUTION_WORKERS", def.Workers),
			InviteCodeAttempts:    getEnvInt("DISTRIBUTION_INVITE_CODE_ATTEMPTS", def.InviteCodeAttempts),
			SettlementCoolingOff:  getEnvDuration("DISTRIBUTION_SETTLEMENT_COOLING_OFF", def.SettlementCoolingOff),
			BindAttemptLimit:      getEnvInt("DISTRIBUTION_BIND_ATTEMPT_LIMIT", def.BindAttemptLimit),
			BindAttemptWindow:     getEnvDuration("DISTRIBUTION_BIND_ATTEMPT_WINDOW", def.BindAttemptWindow),
		},
	}

	// Validate required config
	if cfg.Neo4j.Password == "" {
		return nil, fmt.Errorf("NEO4J_PASSWORD environment variable is required")
	}
	if err := cfg.Service.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c ServiceConfig) Validate() error {
	if c.HierarchyDepth < 1 {
		return fmt.Errorf("hierarchy depth must be at least 1, got %d", c.HierarchyDepth)
	}
	if c.StatsPropagationDepth < 1 {
		return fmt.Errorf("stats propagation depth must be at least 1, got %d", c.StatsPropagationDepth)
	}
	if c.MaxChainWalk < c.HierarchyDepth {
		return fmt.Errorf("max chain walk (%d) must not be below the hierarchy depth (%d)", c.MaxChainWalk, c.HierarchyDepth)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.StatsQueueSize < 1 {
		return fmt.Errorf("stats queue size must be at least 1, got %d", c.StatsQueueSize)
	}
	return nil
}

// Address returns the server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddress returns the prometheus listener address
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration parses values like "1s" or "168h"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
