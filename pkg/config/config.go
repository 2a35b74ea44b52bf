package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `json:"server"`
	Redis   RedisConfig   `json:"redis"`
	Cache   CacheConfig   `json:"cache"`
	Breaker BreakerConfig `json:"breaker"`
	Engine  EngineConfig  `json:"engine"`
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// CacheConfig contains tiered cache configuration
type CacheConfig struct {
	FastTierSize   int           `json:"fast_tier_size"`
	EvictionPolicy string        `json:"eviction_policy"` // lru, lfu, fifo
	BaseTTL        time.Duration `json:"base_ttl"`
	SharedTTL      time.Duration `json:"shared_ttl"`
	JitterFraction float64       `json:"jitter_fraction"`
	KeyPrefix      string        `json:"key_prefix"`
}

// BreakerConfig contains default circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
}

// EngineConfig contains fallback engine configuration
type EngineConfig struct {
	DefaultStageTimeout time.Duration `json:"default_stage_timeout"`
	EventBufferSize     int           `json:"event_buffer_size"`
	MetricsSampleSize   int           `json:"metrics_sample_size"`
	MetricsSampleRate   float64       `json:"metrics_sample_rate"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Cache: CacheConfig{
			FastTierSize:   getEnvInt("CACHE_FAST_TIER_SIZE", 1024),
			EvictionPolicy: getEnvString("CACHE_EVICTION_POLICY", "lru"),
			BaseTTL:        getEnvDuration("CACHE_BASE_TTL", 5*time.Minute),
			SharedTTL:      getEnvDuration("CACHE_SHARED_TTL", 30*time.Minute),
			JitterFraction: getEnvFloat("CACHE_JITTER_FRACTION", 0.2),
			KeyPrefix:      getEnvString("CACHE_KEY_PREFIX", "shopsense"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			ResetTimeout:     getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		},
		Engine: EngineConfig{
			DefaultStageTimeout: getEnvDuration("ENGINE_DEFAULT_STAGE_TIMEOUT", 5*time.Second),
			EventBufferSize:     getEnvInt("ENGINE_EVENT_BUFFER_SIZE", 256),
			MetricsSampleSize:   getEnvInt("ENGINE_METRICS_SAMPLE_SIZE", 1024),
			MetricsSampleRate:   getEnvFloat("ENGINE_METRICS_SAMPLE_RATE", 1.0),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Cache.EvictionPolicy {
	case "lru", "lfu", "fifo":
	default:
		return fmt.Errorf("unsupported cache eviction policy: %s", c.Cache.EvictionPolicy)
	}

	if c.Cache.JitterFraction < 0 || c.Cache.JitterFraction >= 1 {
		return fmt.Errorf("cache jitter fraction must be in [0, 1): %f", c.Cache.JitterFraction)
	}

	if c.Cache.FastTierSize <= 0 {
		return fmt.Errorf("cache fast tier size must be positive: %d", c.Cache.FastTierSize)
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive: %d", c.Breaker.FailureThreshold)
	}

	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker reset timeout must be positive: %s", c.Breaker.ResetTimeout)
	}

	if c.Engine.MetricsSampleRate < 0 || c.Engine.MetricsSampleRate > 1 {
		return fmt.Errorf("metrics sample rate must be in [0, 1]: %f", c.Engine.MetricsSampleRate)
	}

	return nil
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
