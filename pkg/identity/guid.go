// Package identity provides the fixed-size opaque identifier carried by every entity.
package identity

import (
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Size is the byte length of a GUID
const Size = 16

// ErrInvalidGUID is returned when a value cannot be interpreted as a GUID
var ErrInvalidGUID = errors.New("invalid guid")

// GUID is a 16-byte identifier assigned at entity creation and never changed
type GUID [Size]byte

// Nil is the zero GUID
var Nil GUID

// New generates a time-ordered GUID (UUID v7)
func New() GUID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return GUID(uuid.New())
	}
	return GUID(id)
}

// FromBytes builds a GUID from a raw 16-byte slice
func FromBytes(b []byte) (GUID, error) {
	if len(b) != Size {
		return Nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidGUID, Size, len(b))
	}
	var g GUID
	copy(g[:], b)
	return g, nil
}

// Parse accepts the 32-character hex rendering or the dashed UUID form
func Parse(s string) (GUID, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "-", "")
	if len(s) != Size*2 {
		return Nil, fmt.Errorf("%w: %q", ErrInvalidGUID, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nil, fmt.Errorf("%w: %v", ErrInvalidGUID, err)
	}
	return FromBytes(b)
}

// MustParse is Parse for package-level fixtures; it panics on malformed input
func MustParse(s string) GUID {
	g, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return g
}

// FromAny normalizes the representations a GUID takes after passing through
// a driver or a cache codec
func FromAny(v any) (GUID, error) {
	switch t := v.(type) {
	case GUID:
		return t, nil
	case *GUID:
		if t == nil {
			return Nil, fmt.Errorf("%w: nil pointer", ErrInvalidGUID)
		}
		return *t, nil
	case []byte:
		if len(t) == Size*2 {
			return Parse(string(t))
		}
		return FromBytes(t)
	case string:
		return Parse(t)
	case uuid.UUID:
		return GUID(t), nil
	default:
		return Nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidGUID, v)
	}
}

// String renders the GUID as lower-case hex, the client-safe form
func (g GUID) String() string {
	return hex.EncodeToString(g[:])
}

// Bytes returns a copy of the raw identifier
func (g GUID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, g[:])
	return b
}

// IsZero reports whether g is the nil GUID
func (g GUID) IsZero() bool {
	return g == Nil
}

// Value implements driver.Valuer so GUIDs bind as BINARY(16)
func (g GUID) Value() (driver.Value, error) {
	return g.Bytes(), nil
}

// Scan implements sql.Scanner
func (g *GUID) Scan(src any) error {
	if src == nil {
		*g = Nil
		return nil
	}
	parsed, err := FromAny(src)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// MarshalText renders the hex form for JSON/YAML encoders
func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText parses the hex or dashed form
func (g *GUID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
