// Package memdriver is an in-memory storage.Driver. Each transaction works
// on a snapshot of the committed state and records its writes; Commit
// replays them against the latest committed state under the store lock.
package memdriver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// Statement is one committed write, kept for inspection
type Statement struct {
	Op      string // INSERT, UPDATE or DELETE
	Table   string
	Columns []string // Written columns, sorted; empty for DELETE
	Rows    int64
}

type table struct {
	rows []storage.Row
}

type state struct {
	tables map[string]*table
}

func (s state) clone() state {
	out := state{tables: make(map[string]*table, len(s.tables))}
	for name, t := range s.tables {
		rows := make([]storage.Row, len(t.rows))
		for i, r := range t.rows {
			rows[i] = r.Clone()
		}
		out.tables[name] = &table{rows: rows}
	}
	return out
}

func (s state) table(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{}
		s.tables[name] = t
	}
	return t
}

// Option configures a Driver
type Option func(*Driver)

// WithUnique declares a unique column set on a table
func WithUnique(table string, columns ...string) Option {
	return func(d *Driver) {
		d.addUnique(table, columns)
	}
}

// WithSchema declares the unique constraints implied by a built registry:
// every identity, every unique field and the member pair of compound joins
func WithSchema(reg *schema.Registry) Option {
	return func(d *Driver) {
		for _, t := range reg.Types() {
			d.addUnique(t.Table, []string{schema.IDField})
			for _, f := range t.Fields {
				if f.IsUnique() {
					d.addUnique(t.Table, []string{f.Column})
				}
			}
			for i := range t.Relations {
				rel := &t.Relations[i]
				switch rel.Shape() {
				case schema.ManyToManyCompound:
					d.addUnique(rel.Join.Table, []string{rel.Join.LocalColumn, rel.Join.RemoteColumn})
				case schema.ManyToManyExplicit:
					d.addUnique(rel.Join.Table, []string{rel.Join.IDColumn})
				}
			}
		}
	}
}

// Driver is the in-memory store
type Driver struct {
	mu      sync.RWMutex
	state   state
	uniques map[string][][]string
	log     []Statement
}

// New creates an empty store
func New(opts ...Option) *Driver {
	d := &Driver{
		state:   state{tables: make(map[string]*table)},
		uniques: make(map[string][][]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) addUnique(table string, columns []string) {
	cols := append([]string(nil), columns...)
	sort.Strings(cols)
	for _, existing := range d.uniques[table] {
		if equalStrings(existing, cols) {
			return
		}
	}
	d.uniques[table] = append(d.uniques[table], cols)
}

// Begin opens a transaction on a snapshot of the committed state
func (d *Driver) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	snapshot := d.state.clone()
	d.mu.RUnlock()
	return &tx{driver: d, state: snapshot}, nil
}

// Rows returns a copy of the committed rows of a table
func (d *Driver) Rows(table string) []storage.Row {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.state.tables[table]
	if !ok {
		return nil
	}
	out := make([]storage.Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Clone()
	}
	return out
}

// Statements returns the committed write log
func (d *Driver) Statements() []Statement {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Statement(nil), d.log...)
}

// ResetStatements clears the write log
func (d *Driver) ResetStatements() {
	d.mu.Lock()
	d.log = nil
	d.mu.Unlock()
}

type op func(s state) (Statement, error)

type tx struct {
	driver *Driver
	state  state
	ops    []op
	done   bool
}

func (t *tx) check(ctx context.Context) error {
	if t.done {
		return storage.ErrTxDone
	}
	return ctx.Err()
}

// apply runs a write against the snapshot and records it for replay
func (t *tx) apply(o op) (Statement, error) {
	stmt, err := o(t.state)
	if err != nil {
		return stmt, err
	}
	t.ops = append(t.ops, o)
	return stmt, nil
}

func (t *tx) Insert(ctx context.Context, tableName string, row storage.Row) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	row = row.Clone()
	uniques := t.driver.uniques[tableName]
	_, err := t.apply(func(s state) (Statement, error) {
		tbl := s.table(tableName)
		if cols := violated(tbl.rows, row, -1, uniques); cols != nil {
			return Statement{}, &storage.UniqueViolation{Table: tableName, Columns: cols,
				Err: fmt.Errorf("duplicate entry for %s(%v)", tableName, cols)}
		}
		tbl.rows = append(tbl.rows, row.Clone())
		return Statement{Op: "INSERT", Table: tableName, Columns: sortedKeys(row), Rows: 1}, nil
	})
	return err
}

func (t *tx) Update(ctx context.Context, tableName string, where storage.Filter, values storage.Row) (int64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	values = values.Clone()
	uniques := t.driver.uniques[tableName]
	stmt, err := t.apply(func(s state) (Statement, error) {
		tbl := s.table(tableName)
		var n int64
		for i, row := range tbl.rows {
			ok, err := matches(row, where)
			if err != nil {
				return Statement{}, err
			}
			if !ok {
				continue
			}
			updated := row.Clone()
			for k, v := range values {
				updated[k] = v
			}
			if cols := violated(tbl.rows, updated, i, uniques); cols != nil {
				return Statement{}, &storage.UniqueViolation{Table: tableName, Columns: cols,
					Err: fmt.Errorf("duplicate entry for %s(%v)", tableName, cols)}
			}
			tbl.rows[i] = updated
			n++
		}
		return Statement{Op: "UPDATE", Table: tableName, Columns: sortedKeys(values), Rows: n}, nil
	})
	return stmt.Rows, err
}

func (t *tx) Delete(ctx context.Context, tableName string, where storage.Filter) (int64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	stmt, err := t.apply(func(s state) (Statement, error) {
		tbl := s.table(tableName)
		kept := tbl.rows[:0:0]
		var n int64
		for _, row := range tbl.rows {
			ok, err := matches(row, where)
			if err != nil {
				return Statement{}, err
			}
			if ok {
				n++
				continue
			}
			kept = append(kept, row)
		}
		tbl.rows = kept
		return Statement{Op: "DELETE", Table: tableName, Rows: n}, nil
	})
	return stmt.Rows, err
}

func (t *tx) Fetch(ctx context.Context, req storage.FetchRequest) ([]storage.Row, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	tbl := t.state.table(req.Table)
	var out []storage.Row
	for _, row := range tbl.rows {
		ok, err := matches(row, req.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}

	if len(req.Order) > 0 {
		t.sortRows(out, req.Order)
	}

	if req.Offset > 0 {
		if req.Offset >= len(out) {
			out = nil
		} else {
			out = out[req.Offset:]
		}
	}
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}

	result := make([]storage.Row, len(out))
	for i, row := range out {
		result[i] = project(row, req.Columns)
	}
	return result, nil
}

func (t *tx) Count(ctx context.Context, tableName string, where storage.Filter) (int64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, row := range t.state.table(tableName).rows {
		ok, err := matches(row, where)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Commit replays the recorded writes against the latest committed state
func (t *tx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	d := t.driver
	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.state.clone()
	stmts := make([]Statement, 0, len(t.ops))
	for _, o := range t.ops {
		stmt, err := o(next)
		if err != nil {
			return err
		}
		stmts = append(stmts, stmt)
	}
	d.state = next
	d.log = append(d.log, stmts...)
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	t.ops = nil
	return nil
}

func (t *tx) sortRows(rows []storage.Row, order []storage.OrderTerm) {
	key := func(row storage.Row, term storage.OrderTerm) any {
		if term.Join == nil {
			return row[term.Column]
		}
		fk := row[term.Join.ForeignKey]
		if fk == nil {
			return nil
		}
		for _, ref := range t.state.table(term.Join.Table).rows {
			if equalValues(ref[schema.IDField], fk) {
				return ref[term.Column]
			}
		}
		return nil
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, term := range order {
			c := compareForSort(key(rows[i], term), key(rows[j], term))
			if c == 0 {
				continue
			}
			if term.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func project(row storage.Row, columns []string) storage.Row {
	if len(columns) == 0 {
		return row.Clone()
	}
	out := make(storage.Row, len(columns))
	for _, c := range columns {
		out[c] = row[c]
	}
	return out
}

// violated returns the first unique column set row collides on, skipping
// the row at index self
func violated(rows []storage.Row, row storage.Row, self int, uniques [][]string) []string {
	for _, cols := range uniques {
		if !hasAll(row, cols) {
			continue
		}
		for i, other := range rows {
			if i == self {
				continue
			}
			same := true
			for _, c := range cols {
				if !equalValues(row[c], other[c]) {
					same = false
					break
				}
			}
			if same {
				return cols
			}
		}
	}
	return nil
}

func hasAll(row storage.Row, cols []string) bool {
	for _, c := range cols {
		if row[c] == nil {
			return false
		}
	}
	return true
}

func sortedKeys(row storage.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
