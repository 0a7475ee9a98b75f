package repository

import (
	"context"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/model"
	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// Reader defines the query surface of a transaction
type Reader interface {
	// Queries (Read Operations - Cache-First where cacheable)
	Read(ctx context.Context, typeName string, opts query.FindOptions) (*model.ModelSet, error)
	ReadUnique(ctx context.Context, typeName string, opts query.FindOptions) (*model.Entity, error)
	GetByID(ctx context.Context, typeName string, id identity.GUID, sel *query.Select) (*model.Entity, error)
	Count(ctx context.Context, typeName string, opts query.FindOptions) (int64, error)
	Exists(ctx context.Context, typeName string, opts query.FindOptions) (bool, error)
	Search(ctx context.Context, typeName, term string, opts SearchOptions) (*model.ModelSet, error)
}

// Writer defines the command surface of a transaction
type Writer interface {
	// Commands (Write Operations - invalidation queued until the transaction commits)
	Commit(ctx context.Context, e *model.Entity) error
	Delete(ctx context.Context, e *model.Entity) error
}

// Cache is the read-through cache consulted for identity lookups and
// counts. Every method is best effort: failures are logged, never returned
// to callers.
type Cache interface {
	GetRow(ctx context.Context, table string, id identity.GUID) (storage.Row, bool, error)
	SetRow(ctx context.Context, table string, id identity.GUID, row storage.Row) error
	GetCount(ctx context.Context, table, filter string) (int64, bool, error)
	SetCount(ctx context.Context, table, filter string, n int64) error

	// Cache Management
	InvalidateTable(ctx context.Context, table string) error
}

// SearchOptions are the arguments of a search
type SearchOptions struct {
	Select   *query.Select
	Count    int // Page size; 0 uses the engine default, clamped at the maximum
	Offset   int
	TenantID *identity.GUID
}

var (
	_ Reader          = (*Tx)(nil)
	_ Writer          = (*Tx)(nil)
	_ model.Loader    = (*Tx)(nil)
	_ model.Committer = (*Tx)(nil)
)
