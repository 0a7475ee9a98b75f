package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ammar0144/entity4go/pkg/model"
	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// Tx is one unit of work. Every read and write made through it shares the
// underlying storage transaction; nothing is visible to others before
// Complete. After a failed statement the Tx is aborted and every later
// call returns ErrTxAborted.
type Tx struct {
	engine  *Engine
	store   storage.Tx
	id      string
	err     error
	done    bool
	written map[string]struct{}
	started time.Time

	inserts, updates, deletes int
}

// Err returns the error that aborted the transaction, if any
func (tx *Tx) Err() error {
	return tx.err
}

// Complete commits the storage transaction. An aborted transaction is
// rolled back instead and the aborting error returned.
func (tx *Tx) Complete(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	if tx.err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: %v", ErrTxAborted, tx.err)
	}
	tx.done = true
	if err := tx.store.Commit(); err != nil {
		tx.engine.logger.Error("transaction commit failed", "tx", tx.id, "error", err)
		return &model.InternalError{Entity: "transaction", Op: "commit", Err: err}
	}
	tx.engine.logger.Info("transaction committed",
		"tx", tx.id,
		"inserts", tx.inserts,
		"updates", tx.updates,
		"deletes", tx.deletes,
		"duration", time.Since(tx.started),
	)
	tx.invalidate(ctx)
	return nil
}

// Rollback discards every write made in the transaction
func (tx *Tx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	if err := tx.store.Rollback(); err != nil {
		return &model.InternalError{Entity: "transaction", Op: "rollback", Err: err}
	}
	tx.engine.logger.Info("transaction rolled back", "tx", tx.id, "duration", time.Since(tx.started))
	return nil
}

// invalidate drops cached entries of every table written, after the commit
func (tx *Tx) invalidate(ctx context.Context) {
	cache := tx.engine.cache
	if cache == nil {
		return
	}
	tables := make([]string, 0, len(tx.written))
	for t := range tx.written {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		if err := cache.InvalidateTable(ctx, t); err != nil {
			tx.engine.logger.Warn("cache invalidation failed", "tx", tx.id, "table", t, "error", err)
		}
	}
}

// guard rejects calls on finished or aborted transactions
func (tx *Tx) guard() error {
	if tx.done {
		return ErrTxDone
	}
	if tx.err != nil {
		return fmt.Errorf("%w: %v", ErrTxAborted, tx.err)
	}
	return nil
}

// fail aborts the transaction on its first storage error
func (tx *Tx) fail(err error) error {
	if tx.err == nil {
		tx.err = err
		tx.engine.logger.Warn("transaction aborted", "tx", tx.id, "error", err)
	}
	return err
}

func (tx *Tx) touched(table string) bool {
	_, ok := tx.written[table]
	return ok
}

// ============================================================================
// STATEMENTS - every storage call goes through these
// ============================================================================

func (tx *Tx) insert(ctx context.Context, table string, row storage.Row) error {
	ctx, cancel := tx.engine.withQueryTimeout(ctx)
	defer cancel()
	tx.written[table] = struct{}{}
	if err := tx.store.Insert(ctx, table, row); err != nil {
		return tx.fail(err)
	}
	tx.inserts++
	tx.engine.logger.Debug("insert", "tx", tx.id, "table", table, "columns", len(row))
	return nil
}

func (tx *Tx) update(ctx context.Context, table string, where storage.Filter, values storage.Row) (int64, error) {
	ctx, cancel := tx.engine.withQueryTimeout(ctx)
	defer cancel()
	tx.written[table] = struct{}{}
	n, err := tx.store.Update(ctx, table, where, values)
	if err != nil {
		return 0, tx.fail(err)
	}
	tx.updates++
	tx.engine.logger.Debug("update", "tx", tx.id, "table", table, "columns", len(values), "rows", n)
	return n, nil
}

func (tx *Tx) remove(ctx context.Context, table string, where storage.Filter) (int64, error) {
	ctx, cancel := tx.engine.withQueryTimeout(ctx)
	defer cancel()
	tx.written[table] = struct{}{}
	n, err := tx.store.Delete(ctx, table, where)
	if err != nil {
		return 0, tx.fail(err)
	}
	tx.deletes++
	tx.engine.logger.Debug("delete", "tx", tx.id, "table", table, "rows", n)
	return n, nil
}

func (tx *Tx) fetch(ctx context.Context, req storage.FetchRequest) ([]storage.Row, error) {
	ctx, cancel := tx.engine.withQueryTimeout(ctx)
	defer cancel()
	rows, err := tx.store.Fetch(ctx, req)
	if err != nil {
		return nil, tx.fail(err)
	}
	return rows, nil
}

func (tx *Tx) count(ctx context.Context, table string, where storage.Filter) (int64, error) {
	ctx, cancel := tx.engine.withQueryTimeout(ctx)
	defer cancel()
	n, err := tx.store.Count(ctx, table, where)
	if err != nil {
		return 0, tx.fail(err)
	}
	return n, nil
}

// fetchColumn returns the non-null values of one column over the matching rows
func (tx *Tx) fetchColumn(ctx context.Context, table, column string, where storage.Filter) ([]any, error) {
	rows, err := tx.fetch(ctx, storage.FetchRequest{Table: table, Columns: []string{column}, Where: where})
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		if v := r[column]; v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func idFilter(id any) storage.Filter {
	return query.Eq(schema.IDField, id)
}

// ============================================================================
// ERROR TRANSLATION
// ============================================================================

// translate maps a failure to the caller-facing taxonomy: typed model
// errors pass through, unique violations become UniqueConstraintError and
// anything else an InternalError carrying the entity and operation
func (tx *Tx) translate(t *schema.EntityType, op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve *model.ValidationError
		ue *model.UniqueConstraintError
		ie *model.InternalError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ue), errors.As(err, &ie):
		return err
	case errors.Is(err, model.ErrDeleted), errors.Is(err, model.ErrReadOnly),
		errors.Is(err, model.ErrNotLoaded), errors.Is(err, model.ErrUnknownField),
		errors.Is(err, model.ErrImmutableID), errors.Is(err, model.ErrNotFound), errors.Is(err, ErrTxDone),
		errors.Is(err, ErrTxAborted), errors.Is(err, ErrTenantRequired),
		errors.Is(err, ErrNotUniqueCapable), errors.Is(err, ErrEncryptedFilter),
		errors.Is(err, schema.ErrUnknownType), errors.Is(err, ErrInvalidQuery):
		return err
	}

	var uv *storage.UniqueViolation
	if errors.As(err, &uv) {
		return tx.uniqueError(uv)
	}

	name := "unknown"
	if t != nil {
		name = t.Name
	}
	tx.engine.logger.Error("persistence failure", "tx", tx.id, "entity", name, "op", op, "error", err)
	return &model.InternalError{Entity: name, Op: op, Err: err}
}

func (tx *Tx) uniqueError(uv *storage.UniqueViolation) error {
	t, ok := tx.engine.tables[uv.Table]
	if !ok {
		return &model.UniqueConstraintError{Entity: uv.Table, Fields: uv.Columns, Err: uv}
	}
	fields := make([]string, 0, len(uv.Columns))
	for _, c := range uv.Columns {
		if f, ok := t.FieldByColumn(c); ok {
			fields = append(fields, f.Name)
		} else {
			fields = append(fields, c)
		}
	}
	return &model.UniqueConstraintError{Entity: t.Name, Fields: fields, Err: uv}
}
