package build

import (
	"encoding/hex"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/Benny93/oca-go/internal/artifact"
	"github.com/Benny93/oca-go/internal/said"
)

// Key identifies one compilation: the node's refn, a digest of its source
// text and a digest of the dependencies it was compiled against.
type Key struct {
	Refn   string
	Source string
	Deps   string
}

// NewKey derives the cache key for refn compiled from text against deps. The
// order of deps does not matter.
func NewKey(refn, text string, deps []said.SAID) Key {
	src := blake3.Sum256([]byte(text))

	sorted := slices.Clone(deps)
	slices.Sort(sorted)
	h := blake3.New()
	for _, d := range sorted {
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	return Key{Refn: refn, Source: hex.EncodeToString(src[:]), Deps: hex.EncodeToString(h.Sum(nil))}
}

type entry struct {
	done     chan struct{}
	artifact *artifact.Built
	err      error
}

// Cache memoizes compilations for the lifetime of one run. Concurrent
// requests for the same key share a single compilation.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]*entry)}
}

// GetOrBuild returns the cached result for key, or runs build exactly once
// and caches its result. hit reports whether the result came from an earlier
// or concurrent call.
func (c *Cache) GetOrBuild(key Key, build func() (*artifact.Built, error)) (built *artifact.Built, hit bool, err error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-e.done
		c.hits.Add(1)
		return e.artifact, true, e.err
	}
	e := &entry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	c.misses.Add(1)
	defer close(e.done)
	e.artifact, e.err = build()
	return e.artifact, false, e.err
}

// Lookup returns a completed successful entry.
func (c *Cache) Lookup(key Key) (*artifact.Built, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
		return e.artifact, e.err == nil
	default:
		return nil, false
	}
}

// Len returns the number of entries, failed compilations included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{Entries: c.Len(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}
