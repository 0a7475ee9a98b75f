package repository

import (
	"context"
	"fmt"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/model"
	"github.com/ammar0144/entity4go/pkg/query"
)

// Repository is the typed view of one entity type. It holds no state of
// its own: every call runs on the transaction it is given.
type Repository[T Entity] struct {
	typeName string
	wrap     func(*model.Entity) T
}

// NewRepository creates a typed repository; wrap turns a generic entity of
// typeName into its typed wrapper
func NewRepository[T Entity](typeName string, wrap func(*model.Entity) T) *Repository[T] {
	if typeName == "" || wrap == nil {
		panic("repository: type name and wrap function are required")
	}
	return &Repository[T]{typeName: typeName, wrap: wrap}
}

// TypeName returns the entity type the repository serves
func (r *Repository[T]) TypeName() string {
	return r.typeName
}

// New creates an unsaved entity
func (r *Repository[T]) New(engine *Engine, data map[string]any) (T, error) {
	e, err := engine.New(r.typeName, data)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.wrap(e), nil
}

// Wrap types an entity read through a generic call
func (r *Repository[T]) Wrap(e *model.Entity) (T, error) {
	var zero T
	if e == nil {
		return zero, fmt.Errorf("%s: nil entity", r.typeName)
	}
	if e.Type().Name != r.typeName {
		return zero, fmt.Errorf("expected %s, got %s", r.typeName, e.Type().Name)
	}
	return r.wrap(e), nil
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

// GetByID returns the entity with the given identity; found is false when
// it does not exist
func (r *Repository[T]) GetByID(ctx context.Context, tx Reader, id identity.GUID, sel *query.Select) (item T, found bool, err error) {
	e, err := tx.GetByID(ctx, r.typeName, id, sel)
	if err != nil || e == nil {
		return item, false, err
	}
	return r.wrap(e), true, nil
}

// Read returns the entities matching opts
func (r *Repository[T]) Read(ctx context.Context, tx Reader, opts query.FindOptions) ([]T, error) {
	set, err := tx.Read(ctx, r.typeName, opts)
	if err != nil {
		return nil, err
	}
	return r.wrapAll(set), nil
}

// ReadUnique returns the single entity matching a unique-capable filter
func (r *Repository[T]) ReadUnique(ctx context.Context, tx Reader, opts query.FindOptions) (item T, found bool, err error) {
	e, err := tx.ReadUnique(ctx, r.typeName, opts)
	if err != nil || e == nil {
		return item, false, err
	}
	return r.wrap(e), true, nil
}

// Search returns one page of entities whose search fields contain term
func (r *Repository[T]) Search(ctx context.Context, tx Reader, term string, opts SearchOptions) ([]T, error) {
	set, err := tx.Search(ctx, r.typeName, term, opts)
	if err != nil {
		return nil, err
	}
	return r.wrapAll(set), nil
}

// Count returns the number of entities matching opts.Where
func (r *Repository[T]) Count(ctx context.Context, tx Reader, opts query.FindOptions) (int64, error) {
	return tx.Count(ctx, r.typeName, opts)
}

// Exists reports whether any entity matches opts.Where
func (r *Repository[T]) Exists(ctx context.Context, tx Reader, opts query.FindOptions) (bool, error) {
	return tx.Exists(ctx, r.typeName, opts)
}

// ============================================================================
// WRITE OPERATIONS
// ============================================================================

// Commit persists item and the entities its commit depends on
func (r *Repository[T]) Commit(ctx context.Context, tx Writer, item T) error {
	return tx.Commit(ctx, item.Model())
}

// CommitBatch commits items in order, stopping at the first failure
func (r *Repository[T]) CommitBatch(ctx context.Context, tx Writer, items []T) error {
	for i, item := range items {
		if err := tx.Commit(ctx, item.Model()); err != nil {
			return fmt.Errorf("commit %s %d of %d: %w", r.typeName, i+1, len(items), err)
		}
	}
	return nil
}

// Delete removes item and everything it owns
func (r *Repository[T]) Delete(ctx context.Context, tx Writer, item T) error {
	return tx.Delete(ctx, item.Model())
}

func (r *Repository[T]) wrapAll(set *model.ModelSet) []T {
	out := make([]T, 0, set.Len())
	for _, e := range set.Items() {
		out = append(out, r.wrap(e))
	}
	return out
}
