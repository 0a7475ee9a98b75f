// Package cache holds an in-process repository.Cache for single-node
// deployments and tests. Entries are not shared between processes, so a
// node never sees another node's invalidations; use the Redis row cache
// when several engines write the same database.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ammar0144/entity4go/pkg/identity"
	"github.com/ammar0144/entity4go/pkg/repository"
	"github.com/ammar0144/entity4go/pkg/storage"
)

// keySeparator cannot appear in a table name or a hex identity
const keySeparator = "\x00"

// LRU keeps recently used rows and counts in memory, each entry expiring
// after the configured TTL
type LRU struct {
	rows   *expirable.LRU[string, storage.Row]
	counts *expirable.LRU[string, int64]
}

// NewLRU creates a cache holding at most size rows and size counts. A zero
// ttl keeps entries until they are evicted or invalidated.
func NewLRU(size int, ttl time.Duration) *LRU {
	return &LRU{
		rows:   expirable.NewLRU[string, storage.Row](size, nil, ttl),
		counts: expirable.NewLRU[string, int64](size, nil, ttl),
	}
}

func key(table, rest string) string {
	return table + keySeparator + rest
}

// GetRow returns a copy of the cached row
func (c *LRU) GetRow(_ context.Context, table string, id identity.GUID) (storage.Row, bool, error) {
	row, ok := c.rows.Get(key(table, id.String()))
	if !ok {
		return nil, false, nil
	}
	return row.Clone(), true, nil
}

// SetRow stores a copy of row
func (c *LRU) SetRow(_ context.Context, table string, id identity.GUID, row storage.Row) error {
	c.rows.Add(key(table, id.String()), row.Clone())
	return nil
}

// GetCount returns a cached count
func (c *LRU) GetCount(_ context.Context, table, filter string) (int64, bool, error) {
	n, ok := c.counts.Get(key(table, filter))
	return n, ok, nil
}

// SetCount stores a count
func (c *LRU) SetCount(_ context.Context, table, filter string, n int64) error {
	c.counts.Add(key(table, filter), n)
	return nil
}

// InvalidateTable drops every entry of table
func (c *LRU) InvalidateTable(_ context.Context, table string) error {
	prefix := table + keySeparator
	for _, k := range c.rows.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.rows.Remove(k)
		}
	}
	for _, k := range c.counts.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.counts.Remove(k)
		}
	}
	return nil
}

// Len returns the number of cached rows and counts
func (c *LRU) Len() (rows, counts int) {
	return c.rows.Len(), c.counts.Len()
}

// Purge empties the cache
func (c *LRU) Purge() {
	c.rows.Purge()
	c.counts.Purge()
}

var _ repository.Cache = (*LRU)(nil)
