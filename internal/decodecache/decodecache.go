// Package decodecache memoizes decoded container entries across runs.
// A small in-memory tinylfu layer, keyed by the xxhash of the compressed
// bytes, fronts a durable on-disk pebble store so that re-running the CLI
// over an unchanged archive skips re-inflating entries it has already seen.
package decodecache

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
	"github.com/dgryski/go-tinylfu"
)

// DecodeFunc decompresses one complete entry: a full input buffer in, a
// full output buffer out, matching every decoder in this module.
type DecodeFunc func(compressed []byte) ([]byte, error)

// Cache is not safe for concurrent use by multiple goroutines: the
// in-memory tinylfu layer is read and updated without locking.
type Cache struct {
	hot *tinylfu.T[uint64, []byte]
	db  *pebble.DB
}

// Open creates or reopens a cache backed by a pebble database rooted at
// dir, with hotEntries tracked in the in-memory tinylfu layer.
func Open(dir string, hotEntries int) (*Cache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("decodecache: opening store at %s: %w", dir, err)
	}
	return &Cache{
		hot: tinylfu.New[uint64, []byte](hotEntries, hotEntries*10, identity),
		db:  db,
	}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Decode returns decode(compressed), transparently caching the result
// under the xxhash of compressed. A cache hit never calls decode.
func (c *Cache) Decode(compressed []byte, decode DecodeFunc) ([]byte, error) {
	key := xxhash.Sum64(compressed)

	if v, ok := c.hot.Get(key); ok {
		return v, nil
	}

	dbKey := keyBytes(key)
	if val, closer, err := c.db.Get(dbKey); err == nil {
		out := append([]byte(nil), val...)
		closer.Close()
		c.hot.Add(key, out)
		return out, nil
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("decodecache: reading store: %w", err)
	}

	out, err := decode(compressed)
	if err != nil {
		return nil, err
	}

	if err := c.db.Set(dbKey, out, pebble.NoSync); err != nil {
		return nil, fmt.Errorf("decodecache: writing store: %w", err)
	}
	c.hot.Add(key, out)
	return out, nil
}

func keyBytes(k uint64) []byte {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(k >> (8 * (7 - i)))
	}
	return b
}

// xxhash.Sum64 already produces a well-distributed uint64, so tinylfu's own
// hasher hook is the identity function.
func identity(k uint64) uint64 { return k }
