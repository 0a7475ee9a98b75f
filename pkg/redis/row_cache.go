package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/repository"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// Key segments under a table
const (
	rowSegment   = "row"
	countSegment = "count"
)

// RowCache is the engine's read-through cache on Redis. Rows live under
// "<prefix>[:<ns>]:<table>:row:<id>" as msgpack maps and counts under
// "<prefix>[:<ns>]:<table>:count:<filter hash>" as decimal text, so
// invalidating a table is one SCAN over "<prefix>[:<ns>]:<table>:*".
type RowCache struct {
	manager *Manager
}

// NewRowCache creates a row cache on m
func NewRowCache(m *Manager) *RowCache {
	return &RowCache{manager: m}
}

// Manager returns the underlying manager
func (c *RowCache) Manager() *Manager {
	return c.manager
}

func (c *RowCache) rowKey(table string, id identity.GUID) (string, error) {
	if err := checkTable(table); err != nil {
		return "", err
	}
	return c.manager.Key(table, rowSegment, id.String()), nil
}

func (c *RowCache) countKey(table, filter string) (string, error) {
	if err := checkTable(table); err != nil {
		return "", err
	}
	return c.manager.Key(table, countSegment, filterHash(filter)), nil
}

func (c *RowCache) tablePattern(table string) (string, error) {
	if err := checkTable(table); err != nil {
		return "", err
	}
	return c.manager.Key(table, "*"), nil
}

func checkTable(table string) error {
	if table == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidKey)
	}
	return checkKeyPart(table)
}

// filterHash names a canonical filter rendering inside a key
func filterHash(filter string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(filter))
}

// GetRow returns the cached row of id; ok is false on a miss
func (c *RowCache) GetRow(ctx context.Context, table string, id identity.GUID) (storage.Row, bool, error) {
	key, err := c.rowKey(table, id)
	if err != nil {
		return nil, false, err
	}
	data, err := c.manager.Get(ctx, key)
	if IsKeyNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	row, err := decodeRow(data)
	if err != nil {
		// A row this build cannot read is a miss; drop it so the refill wins
		_ = c.manager.Delete(ctx, key)
		return nil, false, err
	}
	return row, true, nil
}

// SetRow stores row under its identity
func (c *RowCache) SetRow(ctx context.Context, table string, id identity.GUID, row storage.Row) error {
	key, err := c.rowKey(table, id)
	if err != nil {
		return err
	}
	data, err := encodeRow(row)
	if err != nil {
		return err
	}
	return c.manager.Set(ctx, key, data)
}

// GetCount returns the cached count for a filter rendering
func (c *RowCache) GetCount(ctx context.Context, table, filter string) (int64, bool, error) {
	key, err := c.countKey(table, filter)
	if err != nil {
		return 0, false, err
	}
	data, err := c.manager.Get(ctx, key)
	if IsKeyNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: count %q: %v", ErrSerializationFailed, data, err)
	}
	return n, true, nil
}

// SetCount stores a count for a filter rendering
func (c *RowCache) SetCount(ctx context.Context, table, filter string, n int64) error {
	key, err := c.countKey(table, filter)
	if err != nil {
		return err
	}
	return c.manager.SetWithTTL(ctx, key, []byte(strconv.FormatInt(n, 10)), c.manager.config.countTTL())
}

// InvalidateTable drops every row and count cached for table
func (c *RowCache) InvalidateTable(ctx context.Context, table string) error {
	pattern, err := c.tablePattern(table)
	if err != nil {
		return err
	}
	_, err = c.manager.InvalidatePattern(ctx, pattern)
	return err
}

// encodeRow serializes a stored row. Identities travel as their 16 raw bytes
// and times in UTC; the engine's decoder folds both back.
func encodeRow(row storage.Row) ([]byte, error) {
	plain := make(map[string]any, len(row))
	for col, v := range row {
		switch t := v.(type) {
		case identity.GUID:
			plain[col] = t.Bytes()
		case *identity.GUID:
			if t == nil {
				plain[col] = nil
			} else {
				plain[col] = t.Bytes()
			}
		case time.Time:
			plain[col] = t.UTC()
		default:
			plain[col] = v
		}
	}
	data, err := msgpack.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return data, nil
}

func decodeRow(data []byte) (storage.Row, error) {
	var row map[string]any
	if err := msgpack.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	if row == nil {
		return nil, fmt.Errorf("%w: empty row", ErrSerializationFailed)
	}
	return storage.Row(row), nil
}

var _ repository.Cache = (*RowCache)(nil)
