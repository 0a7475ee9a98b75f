package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ammar0144/entity4go/pkg/identity"
)

// Normalize converts a value into the canonical Go type for the field.
// Drivers and cache codecs hand back ints of various widths, []byte for
// strings and strings for times; Normalize folds them so comparisons and
// dirty checks see one representation. nil passes through.
func (f *Field) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case TypeString:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		case fmt.Stringer:
			return t.String(), nil
		}
	case TypeInt:
		return toInt64(v)
	case TypeFloat:
		return toFloat64(v)
	case TypeBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case []byte:
			return strconv.ParseBool(string(t))
		case string:
			return strconv.ParseBool(t)
		default:
			n, err := toInt64(v)
			if err == nil {
				return n != 0, nil
			}
		}
	case TypeTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			return parsed.UTC(), nil
		case []byte:
			parsed, err := time.Parse(time.RFC3339Nano, string(t))
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			return parsed.UTC(), nil
		}
	case TypeGUID:
		g, err := identity.FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		return g, nil
	case TypeJSON:
		switch t := v.(type) {
		case []byte:
			var out any
			if err := json.Unmarshal(t, &out); err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			return out, nil
		default:
			return v, nil
		}
	}
	return nil, fmt.Errorf("field %s: cannot use %T as %s", f.Name, v, f.Type)
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", t)
		}
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("value %v is not integral", t)
		}
		return int64(t), nil
	case []byte:
		return strconv.ParseInt(string(t), 10, 64)
	case string:
		return strconv.ParseInt(t, 10, 64)
	}
	return 0, fmt.Errorf("cannot use %T as int", v)
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case []byte:
		return strconv.ParseFloat(string(t), 64)
	case string:
		return strconv.ParseFloat(t, 64)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot use %T as float", v)
	}
	return float64(n), nil
}
