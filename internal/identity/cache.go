package identity

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache is an explicitly constructed TTL cache in front of the role record
// store. Built once at startup and passed to the service; there is no hidden
// package-level cache state.
type Cache struct {
	inner *ristretto.Cache
	ttl   time.Duration
}

// NewCache constructs a Cache with the given entry TTL.
func NewCache(ttl time.Duration) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner, ttl: ttl}, nil
}

// Get returns a cached record if present and fresh.
func (c *Cache) Get(identityID string) (Record, bool) {
	if c == nil {
		return Record{}, false
	}
	value, ok := c.inner.Get(identityID)
	if !ok {
		return Record{}, false
	}
	rec, ok := value.(Record)
	return rec, ok
}

// Set stores a record.
func (c *Cache) Set(rec Record) {
	if c == nil {
		return
	}
	c.inner.SetWithTTL(rec.IdentityID, rec, 1, c.ttl)
}

// Invalidate drops a record. Called after every write path.
func (c *Cache) Invalidate(identityID string) {
	if c == nil {
		return
	}
	c.inner.Del(identityID)
}

// Wait blocks until pending cache writes are applied. Test helper.
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.inner.Wait()
}
