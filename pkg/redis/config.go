package redis

import (
	"fmt"
	"strings"
	"time"
)

// Config holds Redis cache configuration
type Config struct {
	// Cache Strategy
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"` // Row entries
	CountTTL   time.Duration `json:"count_ttl" yaml:"count_ttl"`     // Count entries; 0 uses DefaultTTL

	// Key Layout
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"` // Default: entity4go
	Namespace string `json:"namespace" yaml:"namespace"`   // Separates deployments sharing a server

	// Redis Connection
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	Database int    `json:"database" yaml:"database"`

	// Connection Pool
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	MaxConnAge   time.Duration `json:"max_conn_age" yaml:"max_conn_age"`
	PoolTimeout  time.Duration `json:"pool_timeout" yaml:"pool_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// Performance
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// Clustering (for Redis Cluster)
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	// Cache Metrics
	EnableMetrics bool `json:"enable_metrics" yaml:"enable_metrics"`

	// Cache Logging
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ClusterConfig for Redis Cluster setup
type ClusterConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Addresses []string `json:"addresses" yaml:"addresses"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
}

// LoggingConfig controls Redis cache logging behavior
type LoggingConfig struct {
	LogCacheHits     bool `json:"log_cache_hits" yaml:"log_cache_hits"`
	LogCacheMisses   bool `json:"log_cache_misses" yaml:"log_cache_misses"`
	LogInvalidations bool `json:"log_invalidations" yaml:"log_invalidations"`
}

// DefaultConfig returns a Redis configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		DefaultTTL:   time.Hour,
		CountTTL:     time.Minute * 5,
		KeyPrefix:    cacheKeyPrefix,
		Host:         "localhost",
		Port:         6379,
		Database:     0,
		PoolSize:     10,
		MinIdleConns: 3,
		MaxConnAge:   time.Hour,
		PoolTimeout:  time.Second * 4,
		IdleTimeout:  time.Minute * 5,
		ReadTimeout:  time.Second * 3,
		WriteTimeout: time.Second * 3,
		DialTimeout:  time.Second * 5,
		Cluster: ClusterConfig{
			Enabled: false,
		},
		EnableMetrics: true,
		Logging: LoggingConfig{
			LogCacheHits:     false,
			LogCacheMisses:   false,
			LogInvalidations: true,
		},
	}
}

// Validate checks if the Redis configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil // Skip validation if cache is disabled
	}

	if c.IsClusterMode() {
		if len(c.Cluster.Addresses) == 0 {
			return fmt.Errorf("cluster addresses are required when cluster mode is enabled")
		}
	} else {
		if c.Host == "" {
			return fmt.Errorf("redis host is required when cache is enabled")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("redis port must be between 1 and 65535, got %d", c.Port)
		}
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive when cache is enabled")
	}
	if c.CountTTL < 0 {
		return fmt.Errorf("count_ttl cannot be negative")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1")
	}
	for name, part := range map[string]string{"key_prefix": c.KeyPrefix, "namespace": c.Namespace} {
		if err := checkKeyPart(part); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

// GetAddr returns the Redis connection address
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsClusterMode returns true if Redis cluster is enabled
func (c *Config) IsClusterMode() bool {
	return c.Cluster.Enabled
}

// countTTL returns the lifetime of count entries
func (c *Config) countTTL() time.Duration {
	if c.CountTTL > 0 {
		return c.CountTTL
	}
	return c.DefaultTTL
}

// checkKeyPart rejects key segments that would break the layout or act as
// SCAN glob syntax during invalidation
func checkKeyPart(part string) error {
	if strings.ContainsAny(part, cacheKeySeparator+`*?[]\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, part)
	}
	return nil
}
