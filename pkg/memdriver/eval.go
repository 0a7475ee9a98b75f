package memdriver

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/query"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// truth is SQL three-valued logic: a comparison against NULL is unknown
type truth int8

const (
	falsy truth = iota
	truthy
	unknown
)

func boolTruth(b bool) truth {
	if b {
		return truthy
	}
	return falsy
}

func matches(row storage.Row, where storage.Filter) (bool, error) {
	t, err := eval(row, where)
	return t == truthy, err
}

func eval(row storage.Row, where storage.Filter) (truth, error) {
	switch n := where.(type) {
	case nil:
		return truthy, nil
	case query.Cond:
		return evalCond(row, n)
	case query.Group:
		result := truthy
		if n.Op == query.Or {
			result = falsy
		}
		for _, item := range n.Items {
			t, err := eval(row, item)
			if err != nil {
				return falsy, err
			}
			switch {
			case n.Op == query.Or && t == truthy:
				return truthy, nil
			case n.Op != query.Or && t == falsy:
				return falsy, nil
			case t == unknown:
				result = unknown
			}
		}
		return result, nil
	case query.Negation:
		t, err := eval(row, n.Where)
		if err != nil {
			return falsy, err
		}
		switch t {
		case truthy:
			return falsy, nil
		case falsy:
			return truthy, nil
		}
		return unknown, nil
	default:
		return falsy, fmt.Errorf("%w: %T", storage.ErrUnsupportedFilter, where)
	}
}

func evalCond(row storage.Row, c query.Cond) (truth, error) {
	val, present := row[c.Field]
	if !present {
		val = nil
	}

	switch c.Op {
	case query.IsNull:
		return boolTruth(val == nil), nil
	case query.IsNotNull:
		return boolTruth(val != nil), nil
	case query.Equal:
		if c.Value == nil {
			return boolTruth(val == nil), nil
		}
	case query.NotEqual:
		if c.Value == nil {
			return boolTruth(val != nil), nil
		}
	case query.In, query.NotIn:
		if len(query.InValues(c)) == 0 {
			return boolTruth(c.Op == query.NotIn), nil
		}
	}

	if val == nil {
		return unknown, nil
	}

	switch c.Op {
	case query.Equal:
		return boolTruth(equalValues(val, c.Value)), nil
	case query.NotEqual:
		return boolTruth(!equalValues(val, c.Value)), nil
	case query.GreaterThan, query.GreaterThanOrEqual, query.LessThan, query.LessThanOrEqual:
		cmp, ok := compareValues(val, c.Value)
		if !ok {
			return falsy, fmt.Errorf("cannot compare %s (%T) with %T", c.Field, val, c.Value)
		}
		switch c.Op {
		case query.GreaterThan:
			return boolTruth(cmp > 0), nil
		case query.GreaterThanOrEqual:
			return boolTruth(cmp >= 0), nil
		case query.LessThan:
			return boolTruth(cmp < 0), nil
		default:
			return boolTruth(cmp <= 0), nil
		}
	case query.Contains:
		return boolTruth(strings.Contains(strings.ToLower(toText(val)), strings.ToLower(toText(c.Value)))), nil
	case query.StartsWith:
		return boolTruth(strings.HasPrefix(strings.ToLower(toText(val)), strings.ToLower(toText(c.Value)))), nil
	case query.In:
		for _, v := range query.InValues(c) {
			if equalValues(val, v) {
				return truthy, nil
			}
		}
		return falsy, nil
	case query.NotIn:
		for _, v := range query.InValues(c) {
			if equalValues(val, v) {
				return falsy, nil
			}
		}
		return truthy, nil
	}
	return falsy, fmt.Errorf("%w: operator %s", storage.ErrUnsupportedFilter, c.Op)
}

func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case identity.GUID:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ga, ok := asGUID(a); ok {
		gb, ok := asGUID(b)
		return ok && ga == gb
	}
	if ba, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ba, bb)
	}
	cmp, ok := compareValues(a, b)
	return ok && cmp == 0
}

func asGUID(v any) (identity.GUID, bool) {
	switch x := v.(type) {
	case identity.GUID:
		return x, true
	case *identity.GUID:
		if x == nil {
			return identity.Nil, false
		}
		return *x, true
	}
	return identity.Nil, false
}

// compareValues orders two non-nil values of compatible kinds
func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case identity.GUID:
		y, ok := asGUID(b)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x[:], y[:]), true
	}
	return 0, false
}

// compareForSort orders NULL first, then by value; incomparable values tie
func compareForSort(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(strings.ToLower(sa), strings.ToLower(sb))
		}
	}
	cmp, _ := compareValues(a, b)
	return cmp
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
