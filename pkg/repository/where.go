package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// resolve lowers a field-level filter tree to a column-level storage filter.
// Relation predicates run as sub-reads in the same transaction and become
// IN lists over identities.
func (tx *Tx) resolve(ctx context.Context, t *schema.EntityType, w query.Where) (storage.Filter, error) {
	switch n := w.(type) {
	case nil:
		return nil, nil
	case query.Cond:
		if name, rest, nested := strings.Cut(n.Field, "."); nested {
			inner := query.Cond{Field: rest, Op: n.Op, Value: n.Value}
			if rel, ok := t.Relation(name); ok && rel.Shape() != schema.ManyToOne {
				return tx.resolve(ctx, t, query.Some(name, inner))
			}
			return tx.resolve(ctx, t, query.Is(name, inner))
		}
		return tx.resolveCond(t, n)
	case query.Group:
		items := make([]query.Where, 0, len(n.Items))
		for _, item := range n.Items {
			r, err := tx.resolve(ctx, t, item)
			if err != nil {
				return nil, err
			}
			if r != nil {
				items = append(items, r)
			}
		}
		if len(items) == 0 {
			return nil, nil
		}
		return query.Group{Op: n.Op, Items: items}, nil
	case query.Negation:
		inner, err := tx.resolve(ctx, t, n.Where)
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return query.AnyOf(schema.IDField), nil
		}
		return query.Negation{Where: inner}, nil
	case query.RelPredicate:
		return tx.resolveRelation(ctx, t, n)
	default:
		return nil, fmt.Errorf("%w: unsupported filter node %T", ErrInvalidQuery, w)
	}
}

func (tx *Tx) resolveCond(t *schema.EntityType, c query.Cond) (storage.Filter, error) {
	if c.Field == schema.IDField {
		v, err := encodeIDOperand(c)
		if err != nil {
			return nil, err
		}
		return query.Cond{Field: schema.IDField, Op: c.Op, Value: v}, nil
	}
	f, ok := t.Field(c.Field)
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %s.%s", ErrInvalidQuery, t.Name, c.Field)
	}
	if c.Value == nil && (c.Op == query.Equal || c.Op == query.NotEqual) {
		return query.Cond{Field: f.Column, Op: c.Op}, nil
	}
	v, err := tx.engine.encodeFilterValue(f, c.Op, c.Value)
	if err != nil {
		return nil, err
	}
	return query.Cond{Field: f.Column, Op: c.Op, Value: v}, nil
}

func encodeIDOperand(c query.Cond) (any, error) {
	switch c.Op {
	case query.IsNull, query.IsNotNull:
		return nil, nil
	case query.In, query.NotIn:
		items := query.InValues(c)
		out := make([]any, 0, len(items))
		for _, item := range items {
			id, err := identity.FromAny(item)
			if err != nil {
				return nil, fmt.Errorf("%w: id: %v", ErrInvalidQuery, err)
			}
			out = append(out, id)
		}
		return out, nil
	case query.Equal, query.NotEqual:
		id, err := identity.FromAny(c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: id: %v", ErrInvalidQuery, err)
		}
		return id, nil
	}
	return nil, fmt.Errorf("%w: id does not support %s", ErrInvalidQuery, c.Op)
}

// resolveRelation answers a relation predicate with the identities it admits
func (tx *Tx) resolveRelation(ctx context.Context, t *schema.EntityType, p query.RelPredicate) (storage.Filter, error) {
	rel, ok := t.Relation(p.Relation)
	if !ok {
		return nil, fmt.Errorf("%w: unknown relation %s.%s", ErrInvalidQuery, t.Name, p.Relation)
	}
	target := rel.TargetType()
	inner, err := tx.resolve(ctx, target, p.Where)
	if err != nil {
		return nil, err
	}

	switch rel.Shape() {
	case schema.ManyToOne:
		f, _ := t.Field(rel.ForeignKey)
		if p.Where == nil {
			if p.Quant == query.QuantNone {
				return query.Null(f.Column), nil
			}
			return query.NotNull(f.Column), nil
		}
		ids, err := tx.fetchColumn(ctx, target.Table, schema.IDField, inner)
		if err != nil {
			return nil, err
		}
		if p.Quant == query.QuantNone {
			return query.Any(query.Null(f.Column), query.NoneOf(f.Column, ids...)), nil
		}
		return query.AnyOf(f.Column, ids...), nil

	case schema.OneToMany:
		if p.Quant == query.QuantIs {
			return nil, fmt.Errorf("%w: %s.%s is a collection, use Some or None", ErrInvalidQuery, t.Name, rel.Name)
		}
		fk, _ := target.Field(rel.ForeignKey)
		owners, err := tx.fetchColumn(ctx, target.Table, fk.Column, query.All(inner, query.NotNull(fk.Column)))
		if err != nil {
			return nil, err
		}
		return quantify(p.Quant, owners), nil

	default:
		if p.Quant == query.QuantIs {
			return nil, fmt.Errorf("%w: %s.%s is a collection, use Some or None", ErrInvalidQuery, t.Name, rel.Name)
		}
		var joinWhere storage.Filter
		if inner != nil {
			ids, err := tx.fetchColumn(ctx, target.Table, schema.IDField, inner)
			if err != nil {
				return nil, err
			}
			joinWhere = query.AnyOf(rel.Join.RemoteColumn, ids...)
		}
		owners, err := tx.fetchColumn(ctx, rel.Join.Table, rel.Join.LocalColumn, joinWhere)
		if err != nil {
			return nil, err
		}
		return quantify(p.Quant, owners), nil
	}
}

func quantify(q query.Quantifier, owners []any) storage.Filter {
	if q == query.QuantNone {
		return query.NoneOf(schema.IDField, owners...)
	}
	return query.AnyOf(schema.IDField, owners...)
}

// orderTerms lowers field orderings, falling back to the type's default
// order; identity is appended as a tiebreaker so pages are stable
func (tx *Tx) orderTerms(t *schema.EntityType, orders []query.Order) ([]storage.OrderTerm, error) {
	if len(orders) == 0 {
		orders = t.DefaultOrder
	}
	terms := make([]storage.OrderTerm, 0, len(orders)+1)
	hasID := false
	for _, o := range orders {
		p, err := schema.ResolvePath(t, o.Field)
		if err != nil {
			return nil, fmt.Errorf("%w: order %q: %v", ErrInvalidQuery, o.Field, err)
		}
		if p.Relation == nil {
			col, _ := t.Column(p.Field)
			if col == schema.IDField {
				hasID = true
			}
			if f, ok := t.Field(p.Field); ok && f.Kind == schema.EncryptedUnique {
				return nil, fmt.Errorf("%w: order by %s", ErrEncryptedFilter, o.Field)
			}
			terms = append(terms, storage.OrderTerm{Column: col, Desc: o.Desc})
			continue
		}
		if p.Relation.Shape() != schema.ManyToOne {
			return nil, fmt.Errorf("%w: order %q: only many-to-one relations can be ordered through", ErrInvalidQuery, o.Field)
		}
		target := p.Relation.TargetType()
		col, _ := target.Column(p.Field)
		fk, _ := t.Field(p.Relation.ForeignKey)
		terms = append(terms, storage.OrderTerm{
			Column: col,
			Desc:   o.Desc,
			Join:   &storage.RefJoin{Table: target.Table, ForeignKey: fk.Column},
		})
	}
	if !hasID {
		terms = append(terms, storage.OrderTerm{Column: schema.IDField})
	}
	return terms, nil
}
