package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache key constants for consistent key generation across the application
const (
	cacheKeyPrefix    = "entity4go"
	cacheKeySeparator = ":"
	scanBatchSize     = 100
)

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the structured logger used for hit, miss and invalidation logs
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager manages Redis connections and cache operations
type Manager struct {
	config  *Config
	client  redis.UniversalClient
	metrics *Metrics
	logger  *slog.Logger
}

// NewManager creates a new Redis cache manager
func NewManager(config *Config, opts ...ManagerOption) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	manager := newManager(config, opts)
	manager.initializeClient()
	return manager, nil
}

// NewManagerWithClient creates a manager on an existing client. The manager
// takes ownership and closes it on Close.
func NewManagerWithClient(config *Config, client redis.UniversalClient, opts ...ManagerOption) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	manager := newManager(config, opts)
	if config.Enabled {
		manager.client = client
	}
	return manager, nil
}

func newManager(config *Config, opts []ManagerOption) *Manager {
	m := &Manager{
		config:  config,
		metrics: NewMetrics(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// initializeClient sets up the Redis client based on configuration
func (m *Manager) initializeClient() {
	if !m.config.Enabled {
		return // Skip initialization if cache is disabled
	}

	if m.config.IsClusterMode() {
		m.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           m.config.Cluster.Addresses,
			Username:        m.config.Cluster.Username,
			Password:        m.config.Cluster.Password,
			PoolSize:        m.config.PoolSize,
			MinIdleConns:    m.config.MinIdleConns,
			ConnMaxLifetime: m.config.MaxConnAge,
			PoolTimeout:     m.config.PoolTimeout,
			ConnMaxIdleTime: m.config.IdleTimeout,
			ReadTimeout:     m.config.ReadTimeout,
			WriteTimeout:    m.config.WriteTimeout,
			DialTimeout:     m.config.DialTimeout,
		})
		return
	}

	m.client = redis.NewClient(&redis.Options{
		Addr:            m.config.GetAddr(),
		Password:        m.config.Password,
		DB:              m.config.Database,
		PoolSize:        m.config.PoolSize,
		MinIdleConns:    m.config.MinIdleConns,
		ConnMaxLifetime: m.config.MaxConnAge,
		PoolTimeout:     m.config.PoolTimeout,
		ConnMaxIdleTime: m.config.IdleTimeout,
		ReadTimeout:     m.config.ReadTimeout,
		WriteTimeout:    m.config.WriteTimeout,
		DialTimeout:     m.config.DialTimeout,
	})
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping tests the Redis connection
// Returns nil if cache is disabled (not an error condition)
// Returns ErrConnectionFailed if ping fails
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// checkClient validates that cache is enabled and client is initialized
func (m *Manager) checkClient() error {
	if !m.config.Enabled {
		return ErrCacheDisabled
	}
	if m.client == nil {
		return ErrClientNotInitialized
	}
	return nil
}

// Key joins parts under the configured prefix and namespace:
// "<prefix>[:<namespace>]:<part>:<part>..."
func (m *Manager) Key(parts ...string) string {
	prefix := m.config.KeyPrefix
	if prefix == "" {
		prefix = cacheKeyPrefix
	}
	all := make([]string, 0, len(parts)+2)
	all = append(all, prefix)
	if m.config.Namespace != "" {
		all = append(all, m.config.Namespace)
	}
	all = append(all, parts...)
	return strings.Join(all, cacheKeySeparator)
}

// Get retrieves a value from cache
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := m.client.Get(ctx, key).Bytes()
	m.metrics.RecordGet(time.Since(start))

	if errors.Is(err, redis.Nil) {
		m.metrics.RecordCacheMiss()
		if m.config.Logging.LogCacheMisses {
			m.logger.DebugContext(ctx, "cache miss", "key", key)
		}
		return nil, ErrKeyNotFound
	}
	if err != nil {
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	m.metrics.RecordCacheHit()
	if m.config.Logging.LogCacheHits {
		m.logger.DebugContext(ctx, "cache hit", "key", key)
	}
	return data, nil
}

// Set stores a value in cache with the default TTL
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, m.config.DefaultTTL)
}

// SetWithTTL stores a value in cache with custom TTL
func (m *Manager) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	start := time.Now()
	err := m.client.Set(ctx, key, value, ttl).Err()
	m.metrics.RecordSet(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete removes a key from cache
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.DeleteKeys(ctx, []string{key})
}

// DeleteKeys removes multiple keys from cache
func (m *Manager) DeleteKeys(ctx context.Context, keys []string) error {
	if err := m.checkClient(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := m.client.Del(ctx, keys...).Err()
	m.metrics.RecordDelete(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Exists checks if a key exists in cache
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.checkClient(); err != nil {
		return false, err
	}

	n, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InvalidatePattern removes keys matching a pattern using SCAN instead of KEYS
// and returns how many were removed. On a cluster every master is scanned.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if err := m.checkClient(); err != nil {
		return 0, err
	}

	var removed int
	var err error
	if cluster, ok := m.client.(*redis.ClusterClient); ok {
		var total atomic.Int64
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			n, err := scanDelete(ctx, node, pattern)
			total.Add(int64(n))
			return err
		})
		removed = int(total.Load())
	} else {
		removed, err = scanDelete(ctx, m.client, pattern)
	}
	if err != nil {
		m.metrics.RecordCacheError()
		return removed, err
	}

	m.metrics.RecordInvalidation(removed)
	if m.config.Logging.LogInvalidations {
		m.logger.InfoContext(ctx, "cache invalidated", "pattern", pattern, "keys", removed)
	}
	return removed, nil
}

// scanDelete walks one node with SCAN, deleting each batch as it arrives
func scanDelete(ctx context.Context, client redis.Cmdable, pattern string) (int, error) {
	var cursor uint64
	var removed int
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan keys with pattern %s: %w", pattern, err)
		}
		if len(batch) > 0 {
			// Unlink frees memory off the main thread
			n, err := client.Unlink(ctx, batch...).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete batch: %w", err)
			}
			removed += int(n)
		}
		// cursor == 0 means we've iterated through all keys
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// GetStats returns Redis memory and keyspace statistics
func (m *Manager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	info, err := m.client.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get redis info: %w", err)
	}
	return map[string]interface{}{
		"redis_info": info,
		"metrics":    m.GetMetrics(),
	}, nil
}

// GetMetrics returns current cache performance metrics
func (m *Manager) GetMetrics() MetricsSnapshot {
	return m.metrics.GetSnapshot()
}

// ResetMetrics resets all performance metrics counters
func (m *Manager) ResetMetrics() {
	m.metrics.Reset()
}

// Collector returns a Prometheus collector over the manager's metrics, or
// nil when metrics are disabled
func (m *Manager) Collector() *Collector {
	if !m.config.EnableMetrics {
		return nil
	}
	return NewCollector(m.metrics)
}
