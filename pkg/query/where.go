// Package query holds the declarative read descriptors: filter trees,
// ordering, projections and pagination.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ammar0144/entity4go/pkg/identity"
)

// Operator represents a comparison operator
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Contains           Operator = "CONTAINS"    // Case-insensitive substring
	StartsWith         Operator = "STARTS WITH" // Case-insensitive prefix
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
)

// LogicalOperator for combining conditions
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// Quantifier selects how a relation predicate applies to related entities
type Quantifier string

const (
	// QuantSome matches when at least one member of a collection matches
	QuantSome Quantifier = "SOME"
	// QuantNone matches when no member of a collection matches
	QuantNone Quantifier = "NONE"
	// QuantIs matches when the single related entity matches
	QuantIs Quantifier = "IS"
)

// Where is a node of a filter tree
type Where interface {
	isWhere()
}

// Cond is a single field predicate. Field may be "relation.field" as
// shorthand for Is(relation, Cond{field...}).
type Cond struct {
	Field string
	Op    Operator
	Value any
}

// Group combines child predicates with AND or OR
type Group struct {
	Op    LogicalOperator
	Items []Where
}

// Negation inverts its child predicate
type Negation struct {
	Where Where
}

// RelPredicate filters on a related entity or collection
type RelPredicate struct {
	Quant    Quantifier
	Relation string
	Where    Where
}

func (Cond) isWhere()         {}
func (Group) isWhere()        {}
func (Negation) isWhere()     {}
func (RelPredicate) isWhere() {}

// Eq matches field = value
func Eq(field string, value any) Cond { return Cond{Field: field, Op: Equal, Value: value} }

// Ne matches field != value
func Ne(field string, value any) Cond { return Cond{Field: field, Op: NotEqual, Value: value} }

// Gt matches field > value
func Gt(field string, value any) Cond { return Cond{Field: field, Op: GreaterThan, Value: value} }

// Gte matches field >= value
func Gte(field string, value any) Cond {
	return Cond{Field: field, Op: GreaterThanOrEqual, Value: value}
}

// Lt matches field < value
func Lt(field string, value any) Cond { return Cond{Field: field, Op: LessThan, Value: value} }

// Lte matches field <= value
func Lte(field string, value any) Cond {
	return Cond{Field: field, Op: LessThanOrEqual, Value: value}
}

// ContainsFold matches a case-insensitive substring
func ContainsFold(field, term string) Cond { return Cond{Field: field, Op: Contains, Value: term} }

// HasPrefix matches a case-insensitive prefix
func HasPrefix(field, prefix string) Cond { return Cond{Field: field, Op: StartsWith, Value: prefix} }

// AnyOf matches field IN values
func AnyOf(field string, values ...any) Cond {
	return Cond{Field: field, Op: In, Value: values}
}

// NoneOf matches field NOT IN values
func NoneOf(field string, values ...any) Cond {
	return Cond{Field: field, Op: NotIn, Value: values}
}

// IDsIn matches field IN ids
func IDsIn(field string, ids []identity.GUID) Cond {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return Cond{Field: field, Op: In, Value: values}
}

// Null matches field IS NULL
func Null(field string) Cond { return Cond{Field: field, Op: IsNull} }

// NotNull matches field IS NOT NULL
func NotNull(field string) Cond { return Cond{Field: field, Op: IsNotNull} }

// All combines predicates with AND, dropping nil items
func All(items ...Where) Where { return combine(And, items) }

// Any combines predicates with OR, dropping nil items
func Any(items ...Where) Where { return combine(Or, items) }

// Not negates a predicate
func Not(w Where) Where {
	if w == nil {
		return nil
	}
	return Negation{Where: w}
}

// Some matches entities with at least one related member matching w
func Some(relation string, w Where) Where {
	return RelPredicate{Quant: QuantSome, Relation: relation, Where: w}
}

// None matches entities with no related member matching w
func None(relation string, w Where) Where {
	return RelPredicate{Quant: QuantNone, Relation: relation, Where: w}
}

// Is matches entities whose single related entity matches w
func Is(relation string, w Where) Where {
	return RelPredicate{Quant: QuantIs, Relation: relation, Where: w}
}

func combine(op LogicalOperator, items []Where) Where {
	kept := make([]Where, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		kept = append(kept, item)
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return Group{Op: op, Items: kept}
	}
}

// InValues returns the value list of an IN/NOT IN condition
func InValues(c Cond) []any {
	switch v := c.Value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []identity.GUID:
		out := make([]any, len(v))
		for i, id := range v {
			out[i] = id
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// Walk visits every node depth-first; returning false stops descent into children
func Walk(w Where, fn func(Where) bool) {
	if w == nil || !fn(w) {
		return
	}
	switch n := w.(type) {
	case Group:
		for _, item := range n.Items {
			Walk(item, fn)
		}
	case Negation:
		Walk(n.Where, fn)
	case RelPredicate:
		Walk(n.Where, fn)
	}
}

// UniqueCapable reports whether w pins at most one row: an equality on a
// unique field, possibly ANDed with further predicates
func UniqueCapable(w Where, uniqueFields []string) bool {
	switch n := w.(type) {
	case Cond:
		if n.Op != Equal || n.Value == nil {
			return false
		}
		for _, f := range uniqueFields {
			if f == n.Field {
				return true
			}
		}
		return false
	case Group:
		if n.Op != And {
			return false
		}
		for _, item := range n.Items {
			if UniqueCapable(item, uniqueFields) {
				return true
			}
		}
	}
	return false
}

// Format renders a filter tree canonically, for cache keys and logs
func Format(w Where) string {
	var b strings.Builder
	format(&b, w)
	return b.String()
}

func format(b *strings.Builder, w Where) {
	switch n := w.(type) {
	case nil:
		b.WriteString("TRUE")
	case Cond:
		b.WriteString(n.Field)
		b.WriteByte(' ')
		b.WriteString(string(n.Op))
		switch n.Op {
		case IsNull, IsNotNull:
		case In, NotIn:
			values := InValues(n)
			parts := make([]string, len(values))
			for i, v := range values {
				parts[i] = fmt.Sprintf("%v", v)
			}
			sort.Strings(parts)
			b.WriteString(" (" + strings.Join(parts, ",") + ")")
		default:
			fmt.Fprintf(b, " %v", n.Value)
		}
	case Group:
		b.WriteByte('(')
		for i, item := range n.Items {
			if i > 0 {
				b.WriteString(" " + string(n.Op) + " ")
			}
			format(b, item)
		}
		b.WriteByte(')')
	case Negation:
		b.WriteString("NOT ")
		format(b, n.Where)
	case RelPredicate:
		b.WriteString(string(n.Quant) + " " + n.Relation + " ")
		format(b, n.Where)
	}
}
