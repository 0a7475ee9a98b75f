package db

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// DriverOption configures a Driver
type DriverOption func(*Driver)

// WithSchema teaches the driver the unique keys of a registry so duplicate
// key errors name the offending columns
func WithSchema(reg *schema.Registry) DriverOption {
	return func(d *Driver) {
		for _, keys := range UniqueKeys(reg) {
			for name, cols := range keys {
				d.keys[name] = cols
			}
		}
	}
}

// Driver is a storage.Driver running every statement through GORM
type Driver struct {
	db      *gorm.DB
	builder *Builder
	keys    map[string][]string
}

// NewDriver creates a driver on an opened GORM handle
func NewDriver(db *gorm.DB, opts ...DriverOption) *Driver {
	isMySQL := db.Dialector.Name() == "mysql"
	quote := MySQLQuote
	if !isMySQL {
		quote = func(name string) string {
			var sb strings.Builder
			db.Dialector.QuoteTo(&sb, name)
			return sb.String()
		}
	}
	d := &Driver{
		db:      db,
		builder: NewBuilder(quote, isMySQL),
		keys:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Begin opens a database transaction
func (d *Driver) Begin(ctx context.Context) (storage.Tx, error) {
	tx := d.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &gormTx{driver: d, db: tx}, nil
}

type gormTx struct {
	driver *Driver
	db     *gorm.DB
	done   bool
}

func (t *gormTx) exec(ctx context.Context, table string, stmt Statement) (int64, error) {
	if t.done {
		return 0, storage.ErrTxDone
	}
	res := t.db.WithContext(ctx).Exec(stmt.SQL, stmt.Args...)
	if res.Error != nil {
		return 0, classify(table, t.driver.keys, res.Error)
	}
	return res.RowsAffected, nil
}

func (t *gormTx) Insert(ctx context.Context, table string, row storage.Row) error {
	_, err := t.exec(ctx, table, t.driver.builder.Insert(table, row))
	return err
}

func (t *gormTx) Update(ctx context.Context, table string, where storage.Filter, values storage.Row) (int64, error) {
	stmt, err := t.driver.builder.Update(table, where, values)
	if err != nil {
		return 0, err
	}
	return t.exec(ctx, table, stmt)
}

func (t *gormTx) Delete(ctx context.Context, table string, where storage.Filter) (int64, error) {
	stmt, err := t.driver.builder.Delete(table, where)
	if err != nil {
		return 0, err
	}
	return t.exec(ctx, table, stmt)
}

func (t *gormTx) Fetch(ctx context.Context, req storage.FetchRequest) ([]storage.Row, error) {
	if t.done {
		return nil, storage.ErrTxDone
	}
	stmt, err := t.driver.builder.Select(req)
	if err != nil {
		return nil, err
	}
	rows, err := t.db.WithContext(ctx).Raw(stmt.SQL, stmt.Args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []storage.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.Table, err)
		}
		row := make(storage.Row, len(cols))
		for i, c := range cols {
			// Drivers reuse the scan buffer between rows
			if b, ok := values[i].([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.Table, err)
	}
	return out, nil
}

func (t *gormTx) Count(ctx context.Context, table string, where storage.Filter) (int64, error) {
	if t.done {
		return 0, storage.ErrTxDone
	}
	stmt, err := t.driver.builder.Count(table, where)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := t.db.WithContext(ctx).Raw(stmt.SQL, stmt.Args...).Scan(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (t *gormTx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	return classify("", t.driver.keys, t.db.Commit().Error)
}

func (t *gormTx) Rollback() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	return t.db.Rollback().Error
}

var _ storage.Driver = (*Driver)(nil)
