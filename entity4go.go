// Package entity4go persists the CRM entity graph: typed entities with
// change tracking, relationship wiring and transactional commits on MySQL,
// with an optional Redis or in-process read-through cache.
package entity4go

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ammar0144/entity4go/pkg/cache"
	"github.com/ammar0144/entity4go/pkg/crm"
	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/model"
	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/redis"
	"github.com/ammar0144/entity4go/pkg/repository"
	"github.com/ammar0144/entity4go/pkg/schema"
)

// Re-exported building blocks
type (
	Engine     = repository.Engine
	Tx         = repository.Tx
	Entity     = model.Entity
	ModelSet   = model.ModelSet
	Registry   = schema.Registry
	FindOptions = query.FindOptions
)

// Config is the complete configuration of a Store
type Config struct {
	Database db.Config    `json:"database" yaml:"database"`
	Redis    redis.Config `json:"redis" yaml:"redis"`
	Engine   EngineConfig `json:"engine" yaml:"engine"`
}

// EngineConfig configures the persistence engine itself
type EngineConfig struct {
	// EncryptionKey seals encrypted-unique fields; hex of 16, 24 or 32 bytes
	EncryptionKey   string        `json:"encryption_key" yaml:"encryption_key"`
	DefaultPageSize int           `json:"default_page_size" yaml:"default_page_size"`
	MaxPageSize     int           `json:"max_page_size" yaml:"max_page_size"`
	QueryTimeout    time.Duration `json:"query_timeout" yaml:"query_timeout"`
	AutoMigrate     bool          `json:"auto_migrate" yaml:"auto_migrate"`
	LogLevel        string        `json:"log_level" yaml:"log_level"` // debug, info, warn, error

	// In-process cache, used when Redis is disabled; 0 disables it
	LocalCacheSize int           `json:"local_cache_size" yaml:"local_cache_size"`
	LocalCacheTTL  time.Duration `json:"local_cache_ttl" yaml:"local_cache_ttl"`
}

// DefaultConfig returns a configuration for a local MySQL with the Redis
// cache disabled
func DefaultConfig() *Config {
	rc := redis.DefaultConfig()
	rc.Enabled = false
	return &Config{
		Database: *db.DefaultConfig(),
		Redis:    *rc,
		Engine: EngineConfig{
			DefaultPageSize: repository.DefaultPageSize,
			MaxPageSize:     repository.MaxPageSize,
			QueryTimeout:    30 * time.Second,
			LogLevel:        "info",
			LocalCacheTTL:   time.Minute,
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults. ${VAR}
// references are expanded from the environment before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if _, err := c.Engine.key(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Engine.DefaultPageSize < 0 || c.Engine.MaxPageSize < 0 {
		return fmt.Errorf("engine: page sizes cannot be negative")
	}
	if _, err := parseLevel(c.Engine.LogLevel); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

func (e EngineConfig) key() ([]byte, error) {
	if e.EncryptionKey == "" {
		return nil, fmt.Errorf("encryption_key is required")
	}
	key, err := hex.DecodeString(e.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption_key must be hex: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("encryption_key must be 16, 24 or 32 bytes, got %d", len(key))
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return level, nil
}

// Option configures Open
type Option func(*options)

type options struct {
	logger   *slog.Logger
	registry *schema.Registry
}

// WithLogger replaces the JSON logger Open builds from the configured level
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry opens the store on a registry other than the CRM types
func WithRegistry(reg *schema.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// Store wires the database pool, the cache and the engine together
type Store struct {
	Engine *Engine
	CRM    *crm.Repositories

	database *db.Manager
	redis    *redis.Manager
	local    *cache.LRU
	logger   *slog.Logger
}

// Open connects to the configured database and cache and builds the engine
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	database, err := db.NewManager(&cfg.Database)
	if err != nil {
		return nil, err
	}
	s, err := assemble(ctx, cfg, database, opts)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithManager builds a store on an already opened database manager,
// which the store then owns
func OpenWithManager(ctx context.Context, cfg *Config, database *db.Manager, opts ...Option) (*Store, error) {
	if _, err := cfg.Engine.key(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if err := cfg.Redis.Validate(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return assemble(ctx, cfg, database, opts)
}

func assemble(ctx context.Context, cfg *Config, database *db.Manager, opts []Option) (*Store, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		level, err := parseLevel(cfg.Engine.LogLevel)
		if err != nil {
			return nil, err
		}
		o.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	if o.registry == nil {
		reg, err := crm.NewRegistry()
		if err != nil {
			return nil, err
		}
		o.registry = reg
	}

	if cfg.Engine.AutoMigrate {
		if err := database.Migrate(ctx, o.registry); err != nil {
			return nil, err
		}
	}

	key, err := cfg.Engine.key()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	cipher, err := schema.NewAESCipher(key)
	if err != nil {
		return nil, err
	}

	s := &Store{CRM: crm.NewRepositories(), database: database, logger: o.logger}
	engineOpts := []repository.Option{
		repository.WithCipher(cipher),
		repository.WithLogger(o.logger),
		repository.WithPageSize(cfg.Engine.DefaultPageSize, cfg.Engine.MaxPageSize),
		repository.WithQueryTimeout(cfg.Engine.QueryTimeout),
	}
	switch {
	case cfg.Redis.Enabled:
		s.redis, err = redis.NewManager(&cfg.Redis, redis.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, repository.WithCache(redis.NewRowCache(s.redis)))
	case cfg.Engine.LocalCacheSize > 0:
		s.local = cache.NewLRU(cfg.Engine.LocalCacheSize, cfg.Engine.LocalCacheTTL)
		engineOpts = append(engineOpts, repository.WithCache(s.local))
	}

	driver := database.Driver(db.WithSchema(o.registry))
	s.Engine, err = repository.NewEngine(o.registry, driver, engineOpts...)
	if err != nil {
		_ = s.closeCache()
		return nil, err
	}
	return s, nil
}

// Database returns the database manager
func (s *Store) Database() *db.Manager {
	return s.database
}

// Redis returns the Redis manager, nil when the Redis cache is disabled
func (s *Store) Redis() *redis.Manager {
	return s.redis
}

// RunInTransaction runs fn in a committed-on-success transaction
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	return s.Engine.RunInTransaction(ctx, fn)
}

// Ping checks the database and the cache concurrently
func (s *Store) Ping(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.database.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})
	if s.redis != nil {
		g.Go(func() error {
			if err := s.redis.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Collectors returns Prometheus collectors for the connection pool and,
// when enabled, the cache
func (s *Store) Collectors() ([]prometheus.Collector, error) {
	sqlDB, err := s.database.SqlDB()
	if err != nil {
		return nil, err
	}
	out := []prometheus.Collector{collectors.NewDBStatsCollector(sqlDB, s.database.Config().Database)}
	if s.redis != nil {
		if c := s.redis.Collector(); c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) closeCache() error {
	if s.local != nil {
		s.local.Purge()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// Close releases the cache and the database pool
func (s *Store) Close() error {
	return errors.Join(s.closeCache(), s.database.Close())
}
