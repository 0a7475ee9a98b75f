// Package repository is the persistence engine: explicit transactions,
// the commit planner that writes only what changed, cascading deletes and
// the read surface (read, readUnique, count, exists, getById, search).
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/model"
	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// Default pagination settings
const (
	DefaultPageSize = 25
	MaxPageSize     = 500
)

var (
	// ErrTenantRequired is returned by Search on a tenant-scoped type without a tenant
	ErrTenantRequired = errors.New("tenant id is required for tenant-scoped search")

	// ErrNotUniqueCapable is returned by ReadUnique when the filter cannot pin one row
	ErrNotUniqueCapable = errors.New("where clause is not unique-capable")

	// ErrTxAborted is returned by every call on a transaction after a failed statement
	ErrTxAborted = errors.New("transaction aborted")

	// ErrTxDone is returned by calls on a completed or rolled back transaction
	ErrTxDone = errors.New("transaction already completed")

	// ErrInvalidQuery is returned for filters, orders and selections naming
	// unknown fields or relations
	ErrInvalidQuery = errors.New("invalid query")

	// ErrEncryptedFilter is returned for filters an encrypted field cannot answer
	ErrEncryptedFilter = errors.New("encrypted fields only support equality filters")
)

// Engine binds a schema registry to a storage driver
type Engine struct {
	registry        *schema.Registry
	driver          storage.Driver
	cipher          schema.Cipher
	cache           Cache
	logger          *slog.Logger
	defaultPageSize int
	maxPageSize     int
	queryTimeout    time.Duration
	tables          map[string]*schema.EntityType
}

// Option configures an Engine
type Option func(*Engine)

// WithCipher sets the cipher sealing encrypted-unique fields
func WithCipher(c schema.Cipher) Option {
	return func(e *Engine) { e.cipher = c }
}

// WithCache enables the read-through cache
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPageSize sets the default and maximum page sizes
func WithPageSize(def, max int) Option {
	return func(e *Engine) {
		if def > 0 {
			e.defaultPageSize = def
		}
		if max > 0 {
			e.maxPageSize = max
		}
	}
}

// WithQueryTimeout bounds every storage statement
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Engine) { e.queryTimeout = d }
}

// NewEngine creates an engine; the registry is built if it was not already
func NewEngine(reg *schema.Registry, driver storage.Driver, opts ...Option) (*Engine, error) {
	if reg == nil || driver == nil {
		return nil, fmt.Errorf("registry and driver are required")
	}
	if err := reg.Build(); err != nil {
		return nil, err
	}

	e := &Engine{
		registry:        reg,
		driver:          driver,
		logger:          slog.Default(),
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
		tables:          make(map[string]*schema.EntityType),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.defaultPageSize > e.maxPageSize {
		e.defaultPageSize = e.maxPageSize
	}
	for _, t := range reg.Types() {
		e.tables[t.Table] = t
	}
	return e, nil
}

// Registry returns the schema registry
func (e *Engine) Registry() *schema.Registry {
	return e.registry
}

// Type returns a registered entity type
func (e *Engine) Type(name string) (*schema.EntityType, error) {
	t, ok := e.registry.Type(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrUnknownType, name)
	}
	return t, nil
}

// New creates an unsaved entity of the named type
func (e *Engine) New(typeName string, data map[string]any) (*model.Entity, error) {
	t, err := e.Type(typeName)
	if err != nil {
		return nil, err
	}
	return model.New(t, data)
}

// Reference creates a handle to a stored entity without reading it
func (e *Engine) Reference(typeName string, id identity.GUID) (*model.Entity, error) {
	t, err := e.Type(typeName)
	if err != nil {
		return nil, err
	}
	return model.Reference(t, id), nil
}

// Begin opens a transaction. The caller must Complete or Rollback it.
func (e *Engine) Begin(ctx context.Context) (*Tx, error) {
	store, err := e.driver.Begin(ctx)
	if err != nil {
		return nil, &model.InternalError{Entity: "transaction", Op: "begin", Err: err}
	}
	tx := &Tx{
		engine:  e,
		store:   store,
		id:      identity.New().String()[20:],
		written: make(map[string]struct{}),
		started: time.Now(),
	}
	e.logger.Debug("transaction started", "tx", tx.id)
	return tx, nil
}

// RunInTransaction runs fn in a transaction that commits when fn succeeds
// and rolls back on error or panic
func (e *Engine) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTxDone) {
			e.logger.Error("rollback failed", "tx", tx.id, "error", rbErr)
		}
		return err
	}
	return tx.Complete(ctx)
}

// RunInTestTransaction runs fn in a transaction that always rolls back,
// leaving the store untouched
func (e *Engine) RunInTestTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := e.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTxDone) {
			e.logger.Error("rollback failed", "tx", tx.id, "error", rbErr)
		}
	}()
	return fn(tx)
}

// withQueryTimeout wraps a context with the configured query timeout
func (e *Engine) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.queryTimeout > 0 {
		return context.WithTimeout(ctx, e.queryTimeout)
	}
	return ctx, func() {}
}

func (e *Engine) pageSize(limit int, clamp bool) int {
	switch {
	case limit == 0:
		return e.defaultPageSize
	case limit < 0:
		return 0
	case clamp && limit > e.maxPageSize:
		return e.maxPageSize
	}
	return limit
}
