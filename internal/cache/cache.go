// Package cache provides the in-memory response cache shared by every
// request handler. Entries hold pre-serialized payloads so a hit is served
// without touching the filesystem or re-encoding anything.
//
// Concurrent misses for the same key are not coalesced: each computes
// independently and the last write wins. Both writers produce equivalent
// bytes, so readers observe either.
//
// Every invalidation advances the cache generation. A computation that
// started under an older generation may have read files that have since
// changed, so PutIfGeneration refuses its write.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/theirongolddev/hegelpm/internal/protocol"
)

// Entry is an immutable cached response. Put replaces the whole entry.
type Entry struct {
	Payload  []byte
	StoredAt time.Time
	Digest   uint64
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries       int    `json:"entries"`
	Bytes         int64  `json:"bytes"`
	Hits          int64  `json:"hits"`
	Misses        int64  `json:"misses"`
	Puts          int64  `json:"puts"`
	StalePuts     int64  `json:"stale_puts"`
	Generation    uint64 `json:"generation"`
	Invalidations int64  `json:"invalidations"`
}

// ResponseCache maps cache keys to serialized payloads.
type ResponseCache struct {
	// xsync.MapOf stripes writes across buckets and serves reads without
	// locks, so readers of one key never wait on writers of another.
	entries *xsync.MapOf[protocol.CacheKey, *Entry]

	// gen is read under RLock by conditional puts and advanced under Lock
	// by invalidations, so a put never lands between a bump and its delete.
	genMu sync.RWMutex
	gen   uint64

	hits          *xsync.Counter
	misses        *xsync.Counter
	puts          *xsync.Counter
	stalePuts     *xsync.Counter
	invalidations *xsync.Counter

	now func() time.Time
}

// New returns an empty cache.
func New() *ResponseCache {
	return &ResponseCache{
		entries:       xsync.NewMapOf[protocol.CacheKey, *Entry](),
		hits:          xsync.NewCounter(),
		misses:        xsync.NewCounter(),
		puts:          xsync.NewCounter(),
		stalePuts:     xsync.NewCounter(),
		invalidations: xsync.NewCounter(),
		now:           time.Now,
	}
}

// Get returns the payload stored under key. The returned slice is shared
// and must not be modified.
func (c *ResponseCache) Get(key protocol.CacheKey) ([]byte, bool) {
	e, ok := c.Entry(key)
	if !ok {
		return nil, false
	}
	return e.Payload, true
}

// Entry returns the full entry stored under key and records a hit or miss.
func (c *ResponseCache) Entry(key protocol.CacheKey) (Entry, bool) {
	e, ok := c.entries.Load(key)
	if !ok {
		c.misses.Inc()
		return Entry{}, false
	}
	c.hits.Inc()
	return *e, true
}

// Digest is the content hash stored with every entry.
func Digest(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// Generation returns the current invalidation generation. Record it before
// reading the data a later PutIfGeneration will store.
func (c *ResponseCache) Generation() uint64 {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	return c.gen
}

// Put stores payload under key, replacing any previous entry.
func (c *ResponseCache) Put(key protocol.CacheKey, payload []byte) Entry {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	return c.store(key, payload)
}

// PutIfGeneration stores payload only if no invalidation happened since gen
// was read. The returned entry carries the digest either way.
func (c *ResponseCache) PutIfGeneration(key protocol.CacheKey, payload []byte, gen uint64) (Entry, bool) {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	if c.gen != gen {
		c.stalePuts.Inc()
		return Entry{Payload: payload, StoredAt: c.now(), Digest: Digest(payload)}, false
	}
	return c.store(key, payload), true
}

func (c *ResponseCache) store(key protocol.CacheKey, payload []byte) Entry {
	e := &Entry{
		Payload:  payload,
		StoredAt: c.now(),
		Digest:   Digest(payload),
	}
	c.entries.Store(key, e)
	c.puts.Inc()
	return *e
}

// Invalidate removes key and reports whether it was present. The
// generation advances even when key was absent, since a computation for it
// may be in flight.
func (c *ResponseCache) Invalidate(key protocol.CacheKey) bool {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.gen++
	_, ok := c.entries.LoadAndDelete(key)
	if ok {
		c.invalidations.Inc()
	}
	return ok
}

// InvalidatePrefix removes every key starting with prefix and returns how
// many were removed.
func (c *ResponseCache) InvalidatePrefix(prefix string) int {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.gen++
	n := 0
	c.entries.Range(func(key protocol.CacheKey, _ *Entry) bool {
		if strings.HasPrefix(string(key), prefix) {
			if _, ok := c.entries.LoadAndDelete(key); ok {
				n++
			}
		}
		return true
	})
	c.invalidations.Add(int64(n))
	return n
}

// Clear drops every entry.
func (c *ResponseCache) Clear() {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.gen++
	n := c.entries.Size()
	c.entries.Clear()
	c.invalidations.Add(int64(n))
}

// Len returns the number of stored entries.
func (c *ResponseCache) Len() int {
	return c.entries.Size()
}

// Stats returns current counters.
func (c *ResponseCache) Stats() Stats {
	var bytes int64
	c.entries.Range(func(_ protocol.CacheKey, e *Entry) bool {
		bytes += int64(len(e.Payload))
		return true
	})
	return Stats{
		Entries:       c.entries.Size(),
		Bytes:         bytes,
		Hits:          c.hits.Value(),
		Misses:        c.misses.Value(),
		Puts:          c.puts.Value(),
		StalePuts:     c.stalePuts.Value(),
		Generation:    c.Generation(),
		Invalidations: c.invalidations.Value(),
	}
}
