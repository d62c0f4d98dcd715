package blob

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore wraps a Store with an LRU cache of known-present hashes.
// Content addressing makes presence cacheable: a stored hash never changes
// meaning, so the only stale state a cache can hold is presence after a
// delete, which Delete evicts.
type CachedStore struct {
	inner Store
	known *lru.Cache[string, struct{}]
}

// NewCachedStore wraps inner with an existence cache of the given size.
func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	known, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{inner: inner, known: known}, nil
}

// Put implements Store.
func (c *CachedStore) Put(ctx context.Context, data []byte) (string, error) {
	hash := HashBytes(data)
	if c.known.Contains(hash) {
		return hash, nil
	}
	hash, err := c.inner.Put(ctx, data)
	if err != nil {
		return "", err
	}
	c.known.Add(hash, struct{}{})
	return hash, nil
}

// Get implements Store.
func (c *CachedStore) Get(ctx context.Context, hash string) ([]byte, error) {
	data, err := c.inner.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.known.Add(hash, struct{}{})
	return data, nil
}

// Delete implements Store.
func (c *CachedStore) Delete(ctx context.Context, hash string) error {
	c.known.Remove(hash)
	return c.inner.Delete(ctx, hash)
}

// Exists implements Store.
func (c *CachedStore) Exists(ctx context.Context, hash string) (bool, error) {
	if c.known.Contains(hash) {
		return true, nil
	}
	ok, err := c.inner.Exists(ctx, hash)
	if err != nil {
		return false, err
	}
	if ok {
		c.known.Add(hash, struct{}{})
	}
	return ok, nil
}
