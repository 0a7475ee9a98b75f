package db

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// SQL Statement Builder
//
// Renders storage requests into parameterized SQL. Identifiers come from the
// schema registry and are quoted by the dialect; every value travels as a
// "?" argument, which GORM rebinds for the connected dialect.

// Quoter quotes one identifier for the target dialect
type Quoter func(name string) string

// MySQLQuote quotes identifiers with backticks
func MySQLQuote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ANSIQuote quotes identifiers with double quotes
func ANSIQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// maxRows stands in for an unbounded LIMIT where OFFSET requires one
const maxRows = "18446744073709551615"

// Builder renders statements for one dialect
type Builder struct {
	quote Quoter
	// mysql dialects need a LIMIT with every OFFSET and already sort NULL first
	mysql bool
}

// NewBuilder creates a builder; mysql selects MySQL pagination and NULL ordering
func NewBuilder(quote Quoter, mysql bool) *Builder {
	if quote == nil {
		quote = MySQLQuote
	}
	return &Builder{quote: quote, mysql: mysql}
}

// Statement is rendered SQL with its arguments
type Statement struct {
	SQL  string
	Args []any
}

// Select renders a fetch. The table's own columns are qualified by its name;
// order terms through references become LEFT JOINs aliased j1, j2, ...
func (b *Builder) Select(req storage.FetchRequest) (Statement, error) {
	var sb strings.Builder
	table := b.quote(req.Table)

	sb.WriteString("SELECT ")
	if len(req.Columns) == 0 {
		sb.WriteString(table + ".*")
	} else {
		cols := make([]string, len(req.Columns))
		for i, c := range req.Columns {
			cols[i] = table + "." + b.quote(c)
		}
		sb.WriteString(strings.Join(cols, ", "))
	}
	sb.WriteString(" FROM " + table)

	orders := make([]string, 0, len(req.Order)+1)
	joins := make(map[storage.RefJoin]string)
	byID := false
	for _, term := range req.Order {
		col := table + "." + b.quote(term.Column)
		if term.Join != nil {
			alias, ok := joins[*term.Join]
			if !ok {
				alias = fmt.Sprintf("j%d", len(joins)+1)
				joins[*term.Join] = alias
				fmt.Fprintf(&sb, " LEFT JOIN %s AS %s ON %s.%s = %s.%s",
					b.quote(term.Join.Table), alias, alias, b.quote(schema.IDField), table, b.quote(term.Join.ForeignKey))
			}
			col = alias + "." + b.quote(term.Column)
		} else if term.Column == schema.IDField {
			byID = true
		}
		orders = append(orders, b.orderTerm(col, term.Desc))
	}

	where, args, err := b.Where(table, req.Where)
	if err != nil {
		return Statement{}, err
	}
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}

	// The identity breaks ties so pages never overlap
	if len(orders) > 0 && !byID {
		orders = append(orders, table+"."+b.quote(schema.IDField)+" ASC")
	}
	if len(orders) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}

	switch {
	case req.Limit > 0:
		fmt.Fprintf(&sb, " LIMIT %d", req.Limit)
	case req.Offset > 0 && b.mysql:
		sb.WriteString(" LIMIT " + maxRows)
	}
	if req.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", req.Offset)
	}
	return Statement{SQL: sb.String(), Args: args}, nil
}

func (b *Builder) orderTerm(col string, desc bool) string {
	switch {
	case b.mysql && desc:
		return col + " DESC"
	case b.mysql:
		return col + " ASC"
	case desc:
		return col + " DESC NULLS LAST"
	default:
		return col + " ASC NULLS FIRST"
	}
}

// Count renders a row count
func (b *Builder) Count(table string, where storage.Filter) (Statement, error) {
	sql := "SELECT COUNT(*) FROM " + b.quote(table)
	cond, args, err := b.Where("", where)
	if err != nil {
		return Statement{}, err
	}
	if cond != "" {
		sql += " WHERE " + cond
	}
	return Statement{SQL: sql, Args: args}, nil
}

// Insert renders a single-row insert; columns are written in sorted order
func (b *Builder) Insert(table string, row storage.Row) Statement {
	cols := sortedColumns(row)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = b.quote(c)
		placeholders[i] = "?"
		args[i] = row[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.quote(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return Statement{SQL: sql, Args: args}
}

// Update renders an update of values on the rows matching where
func (b *Builder) Update(table string, where storage.Filter, values storage.Row) (Statement, error) {
	if len(values) == 0 {
		return Statement{}, fmt.Errorf("update %s: no values", table)
	}
	cols := sortedColumns(values)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		sets[i] = b.quote(c) + " = ?"
		args = append(args, values[c])
	}
	sql := "UPDATE " + b.quote(table) + " SET " + strings.Join(sets, ", ")
	cond, condArgs, err := b.Where("", where)
	if err != nil {
		return Statement{}, err
	}
	if cond != "" {
		sql += " WHERE " + cond
	}
	return Statement{SQL: sql, Args: append(args, condArgs...)}, nil
}

// Delete renders a delete of the rows matching where
func (b *Builder) Delete(table string, where storage.Filter) (Statement, error) {
	sql := "DELETE FROM " + b.quote(table)
	cond, args, err := b.Where("", where)
	if err != nil {
		return Statement{}, err
	}
	if cond != "" {
		sql += " WHERE " + cond
	}
	return Statement{SQL: sql, Args: args}, nil
}

// Where renders a column-level filter; qualifier, when set, prefixes every
// column. A nil filter renders as "".
func (b *Builder) Where(qualifier string, w storage.Filter) (string, []any, error) {
	if w == nil {
		return "", nil, nil
	}
	var args []any
	sql, err := b.node(qualifier, w, &args)
	return sql, args, err
}

func (b *Builder) node(qualifier string, w storage.Filter, args *[]any) (string, error) {
	switch n := w.(type) {
	case query.Cond:
		return b.cond(qualifier, n, args)
	case query.Group:
		if len(n.Items) == 0 {
			if n.Op == query.Or {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		parts := make([]string, 0, len(n.Items))
		for _, item := range n.Items {
			sql, err := b.node(qualifier, item, args)
			if err != nil {
				return "", err
			}
			if _, nested := item.(query.Group); nested {
				sql = "(" + sql + ")"
			}
			parts = append(parts, sql)
		}
		op := query.And
		if n.Op == query.Or {
			op = query.Or
		}
		return strings.Join(parts, " "+string(op)+" "), nil
	case query.Negation:
		sql, err := b.node(qualifier, n.Where, args)
		if err != nil {
			return "", err
		}
		return "NOT (" + sql + ")", nil
	default:
		return "", fmt.Errorf("%w: %T", storage.ErrUnsupportedFilter, w)
	}
}

func (b *Builder) cond(qualifier string, c query.Cond, args *[]any) (string, error) {
	col := b.quote(c.Field)
	if qualifier != "" {
		col = qualifier + "." + col
	}

	switch c.Op {
	case query.IsNull:
		return col + " IS NULL", nil
	case query.IsNotNull:
		return col + " IS NOT NULL", nil
	case query.Equal:
		if c.Value == nil {
			return col + " IS NULL", nil
		}
		*args = append(*args, c.Value)
		return col + " = ?", nil
	case query.NotEqual:
		if c.Value == nil {
			return col + " IS NOT NULL", nil
		}
		*args = append(*args, c.Value)
		return col + " <> ?", nil
	case query.GreaterThan, query.GreaterThanOrEqual, query.LessThan, query.LessThanOrEqual:
		*args = append(*args, c.Value)
		return col + " " + string(c.Op) + " ?", nil
	case query.Contains:
		*args = append(*args, "%"+escapeLike(strings.ToLower(fmt.Sprint(c.Value)))+"%")
		return "LOWER(" + col + ") LIKE ?", nil
	case query.StartsWith:
		*args = append(*args, escapeLike(strings.ToLower(fmt.Sprint(c.Value)))+"%")
		return "LOWER(" + col + ") LIKE ?", nil
	case query.In, query.NotIn:
		values := query.InValues(c)
		if len(values) == 0 {
			if c.Op == query.In {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		placeholders := make([]string, len(values))
		for i := range values {
			placeholders[i] = "?"
		}
		*args = append(*args, values...)
		return fmt.Sprintf("%s %s (%s)", col, c.Op, strings.Join(placeholders, ", ")), nil
	}
	return "", fmt.Errorf("%w: operator %s", storage.ErrUnsupportedFilter, c.Op)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func sortedColumns(row storage.Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
