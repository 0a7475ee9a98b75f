package repository

import (
	"fmt"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/schema"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// encodeValue converts a normalized field value to its stored form
func (e *Engine) encodeValue(f *schema.Field, v any) (any, error) {
	if v == nil || f.Kind != schema.EncryptedUnique {
		return v, nil
	}
	if e.cipher == nil {
		return nil, fmt.Errorf("field %s: %w", f.Name, schema.ErrCipherUnavailable)
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("field %s: encrypted value must be a string, got %T", f.Name, v)
	}
	return e.cipher.Seal(f.Name, s)
}

// decodeValue converts a stored value back to the field's normalized form
func (e *Engine) decodeValue(f *schema.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Kind == schema.EncryptedUnique {
		if e.cipher == nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, schema.ErrCipherUnavailable)
		}
		var sealed string
		switch x := v.(type) {
		case string:
			sealed = x
		case []byte:
			sealed = string(x)
		default:
			return nil, fmt.Errorf("field %s: unexpected stored type %T", f.Name, v)
		}
		return e.cipher.Open(f.Name, sealed)
	}
	return f.Normalize(v)
}

// encodeFields builds the stored row for the named fields of an entity snapshot
func (e *Engine) encodeFields(t *schema.EntityType, values map[string]any, fields []string) (storage.Row, error) {
	row := make(storage.Row, len(fields))
	for _, name := range fields {
		f, ok := t.Field(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrInvalidQuery, t.Name, name)
		}
		v, err := e.encodeValue(f, values[name])
		if err != nil {
			return nil, err
		}
		row[f.Column] = v
	}
	return row, nil
}

// decodeRow maps the requested columns of a stored row to field values.
// Columns absent from the row read as null.
func (e *Engine) decodeRow(t *schema.EntityType, row storage.Row, columns []string) (identity.GUID, map[string]any, error) {
	id, err := identity.FromAny(row[schema.IDField])
	if err != nil {
		return identity.Nil, nil, fmt.Errorf("%s row identity: %w", t.Name, err)
	}
	values := make(map[string]any, len(columns))
	for _, c := range columns {
		if c == schema.IDField {
			continue
		}
		f, ok := t.FieldByColumn(c)
		if !ok {
			continue
		}
		v, err := e.decodeValue(f, row[c])
		if err != nil {
			return identity.Nil, nil, fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
		}
		values[f.Name] = v
	}
	return id, values, nil
}

// encodeFilterValue prepares a filter operand for a field
func (e *Engine) encodeFilterValue(f *schema.Field, op query.Operator, v any) (any, error) {
	switch op {
	case query.IsNull, query.IsNotNull:
		return nil, nil
	case query.In, query.NotIn:
		items := query.InValues(query.Cond{Value: v})
		out := make([]any, 0, len(items))
		for _, item := range items {
			enc, err := e.encodeFilterValue(f, query.Equal, item)
			if err != nil {
				return nil, err
			}
			out = append(out, enc)
		}
		return out, nil
	case query.Contains, query.StartsWith:
		if f.Kind == schema.EncryptedUnique {
			return nil, fmt.Errorf("%w: %s %s", ErrEncryptedFilter, f.Name, op)
		}
		return fmt.Sprint(v), nil
	case query.GreaterThan, query.GreaterThanOrEqual, query.LessThan, query.LessThanOrEqual:
		if f.Kind == schema.EncryptedUnique {
			return nil, fmt.Errorf("%w: %s %s", ErrEncryptedFilter, f.Name, op)
		}
	}
	n, err := f.Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, f.Name, err)
	}
	return e.encodeValue(f, n)
}

// columnsFor lists the stored columns a read fetches, identity first
func columnsFor(t *schema.EntityType, fields []string) []string {
	cols := []string{schema.IDField}
	for _, name := range fields {
		if name == schema.IDField {
			continue
		}
		if c, ok := t.Column(name); ok {
			cols = append(cols, c)
		}
	}
	return cols
}
