package fetch

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hnlq715/golang-lru"
)

const (
	defaultDocCacheSize = 4096
	defaultDocExpiry    = 5 * time.Minute
)

// Cache stores fetched content keyed by a URI-derived key: parsed JSON
// documents in an expiring LRU, archive payloads as files under a cache
// directory. Multi-reader multi-writer; last writer wins on the parsed
// value, which is acceptable since content is addressed by URI.
type Cache struct {
	docs   *lru.Cache
	expiry time.Duration

	mu  sync.Mutex
	dir string
}

// NewCache creates a cache. An empty dir allocates a fresh temp
// directory; size and expiry of zero take defaults.
func NewCache(dir string, size int, expiry time.Duration) (*Cache, error) {
	if size <= 0 {
		size = defaultDocCacheSize
	}
	if expiry <= 0 {
		expiry = defaultDocExpiry
	}
	if dir == "" {
		tmp, err := os.MkdirTemp("", "nugetmirror-cache-")
		if err != nil {
			return nil, err
		}
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	docs, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &Cache{docs: docs, expiry: expiry, dir: dir}, nil
}

// CacheKey derives the cache key for a URI by substituting scheme and
// path separators with underscores.
func CacheKey(uri string) string {
	return strings.NewReplacer("://", "_", "/", "_", ":", "_", "?", "_").Replace(uri)
}

// GetOrSetDoc returns the cached document for key, or invokes fn and
// caches its result with a jittered TTL.
func (c *Cache) GetOrSetDoc(key string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	if v, ok := c.docs.Get(key); ok {
		return v.(map[string]interface{}), nil
	}

	doc, err := fn()
	if err != nil {
		return nil, err
	}

	jitter := time.Duration(rand.Int63n(int64(c.expiry) / 10))
	c.docs.AddEx(key, doc, c.expiry+jitter)
	return doc, nil
}

// FilePath returns the on-disk location for a file payload with the
// given key.
func (c *Cache) FilePath(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return filepath.Join(c.dir, key)
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

// Clear drops every cached document and removes cached files. Best
// effort: the directory is recreated, and removal errors are ignored.
func (c *Cache) Clear() {
	c.docs.Purge()

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = os.RemoveAll(c.dir)
	_ = os.MkdirAll(c.dir, 0o755)
}
