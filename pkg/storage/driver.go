// Package storage defines the contract between the persistence engine and a
// relational driver. Drivers see tables, columns and column-level filters
// only; relation predicates are resolved by the engine before they get here.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ammar0144/entity4go/pkg/query"
)

// ErrUnsupportedFilter is returned by drivers for filter nodes they do not
// evaluate (relation predicates must be resolved by the caller)
var ErrUnsupportedFilter = errors.New("unsupported filter node")

// ErrTxDone is returned when a finished transaction is used
var ErrTxDone = errors.New("transaction already committed or rolled back")

// Row is one stored record keyed by column name
type Row map[string]any

// Clone returns a shallow copy of the row
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Filter is a column-level filter tree built from query.Cond, query.Group
// and query.Negation nodes. A nil Filter matches every row.
type Filter = query.Where

// RefJoin orders through a many-to-one reference: the referenced row is
// found in Table by matching its id against ForeignKey on the fetched row
type RefJoin struct {
	Table      string
	ForeignKey string
}

// OrderTerm is one ORDER BY term
type OrderTerm struct {
	Column string
	Desc   bool
	Join   *RefJoin
}

// FetchRequest describes a filtered, ordered, paginated row fetch
type FetchRequest struct {
	Table   string
	Columns []string // Empty fetches every column
	Where   Filter
	Order   []OrderTerm
	Limit   int // 0 or negative is unbounded
	Offset  int
}

// Driver opens transactions against the store
type Driver interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a caller-demarcated unit of work. Every statement runs inside it and
// nothing becomes visible to other transactions before Commit.
type Tx interface {
	Insert(ctx context.Context, table string, row Row) error
	Update(ctx context.Context, table string, where Filter, values Row) (int64, error)
	Delete(ctx context.Context, table string, where Filter) (int64, error)
	Fetch(ctx context.Context, req FetchRequest) ([]Row, error)
	Count(ctx context.Context, table string, where Filter) (int64, error)
	Commit() error
	Rollback() error
}

// UniqueViolation is how drivers surface a unique-constraint failure
type UniqueViolation struct {
	Table   string
	Columns []string
	Err     error
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("unique constraint violated on %s(%s)", e.Table, strings.Join(e.Columns, ", "))
}

func (e *UniqueViolation) Unwrap() error {
	return e.Err
}

// IsUniqueViolation reports whether err carries a *UniqueViolation
func IsUniqueViolation(err error) bool {
	var uv *UniqueViolation
	return errors.As(err, &uv)
}
