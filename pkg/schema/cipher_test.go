package schema

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/entity4go/pkg/identity"
)

func TestAESCipher(t *testing.T) {
	c, err := NewAESCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	first, err := c.Seal("email", "ada@example.com")
	require.NoError(t, err)
	second, err := c.Seal("email", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, first, second, "equal plaintexts seal equally")

	other, err := c.Seal("phone", "ada@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "sealed values are bound to their field")

	plain, err := c.Open("email", first)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", plain)

	_, err = c.Open("phone", first)
	assert.Error(t, err)
	_, err = c.Open("email", "not-hex")
	assert.ErrorContains(t, err, "decode")
	_, err = c.Open("email", "00ff")
	assert.ErrorContains(t, err, "too short")
}

func TestAESCipherKeyLength(t *testing.T) {
	for _, n := range []int{16, 24, 32} {
		_, err := NewAESCipher(make([]byte, n))
		assert.NoError(t, err, "key of %d bytes", n)
	}
	_, err := NewAESCipher(make([]byte, 10))
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	id := identity.New()
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		field Field
		in    any
		want  any
	}{
		{"nil passes through", Field{Type: TypeInt}, nil, nil},
		{"string from bytes", Field{Type: TypeString}, []byte("ada"), "ada"},
		{"int from int32", Field{Type: TypeInt}, int32(5), int64(5)},
		{"int from text", Field{Type: TypeInt}, []byte("42"), int64(42)},
		{"int from integral float", Field{Type: TypeInt}, float64(7), int64(7)},
		{"float from int", Field{Type: TypeFloat}, int64(3), float64(3)},
		{"bool from tinyint", Field{Type: TypeBool}, int64(1), true},
		{"bool from text", Field{Type: TypeBool}, []byte("false"), false},
		{"time from text", Field{Type: TypeTime}, "2024-03-01T13:30:00+01:00", at},
		{"time to utc", Field{Type: TypeTime}, at.In(time.FixedZone("x", 3600)), at},
		{"guid from bytes", Field{Type: TypeGUID}, id.Bytes(), id},
		{"guid from hex", Field{Type: TypeGUID}, id.String(), id},
		{"json from bytes", Field{Type: TypeJSON}, []byte(`{"a":1}`), map[string]any{"a": float64(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.field.Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		in    any
	}{
		{"fractional int", Field{Name: "n", Type: TypeInt}, 1.5},
		{"bool from struct", Field{Name: "b", Type: TypeBool}, struct{}{}},
		{"bad time", Field{Name: "t", Type: TypeTime}, "yesterday"},
		{"short guid", Field{Name: "g", Type: TypeGUID}, []byte{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.field.Normalize(tt.in)
			assert.Error(t, err)
		})
	}
}
