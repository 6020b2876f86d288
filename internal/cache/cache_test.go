package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/hegelpm/internal/protocol"
)

func TestGetPut(t *testing.T) {
	c := New()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	_, ok := c.Get(protocol.KeyList)
	assert.False(t, ok)

	payload := []byte(`{"projects":[],"total_count":0}`)
	c.Put(protocol.KeyList, payload)

	e, ok := c.Entry(protocol.KeyList)
	require.True(t, ok)
	assert.Equal(t, payload, e.Payload)
	assert.Equal(t, fixed, e.StoredAt)
	assert.Equal(t, xxhash.Sum64(payload), e.Digest)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(len(payload)), st.Bytes)
}

func TestPutReplacesWholeEntry(t *testing.T) {
	c := New()
	c.Put(protocol.ShowKey("alpha"), []byte("old"))
	first, _ := c.Entry(protocol.ShowKey("alpha"))
	c.Put(protocol.ShowKey("alpha"), []byte("new-payload"))

	got, ok := c.Get(protocol.ShowKey("alpha"))
	require.True(t, ok)
	assert.Equal(t, "new-payload", string(got))
	assert.Equal(t, "old", string(first.Payload), "earlier readers keep their snapshot")
}

func TestInvalidate(t *testing.T) {
	c := New()
	c.Put(protocol.KeyList, []byte("a"))
	c.Put(protocol.ShowKey("alpha"), []byte("b"))
	c.Put(protocol.ShowKey("beta"), []byte("c"))
	c.Put("all/name/asc/nobench", []byte("d"))

	assert.True(t, c.Invalidate(protocol.KeyList))
	assert.False(t, c.Invalidate(protocol.KeyList))
	assert.Equal(t, 3, c.Len())

	n := c.InvalidatePrefix(protocol.PrefixShow)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(4), c.Stats().Invalidations)
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := protocol.ShowKey(fmt.Sprintf("p%d", i%4))
			for j := 0; j < 200; j++ {
				c.Put(key, []byte(fmt.Sprintf("%d-%d", i, j)))
				if got, ok := c.Get(key); ok && len(got) == 0 {
					t.Errorf("observed empty payload for %s", key)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, c.Len())
}

func TestPutIfGeneration(t *testing.T) {
	c := New()
	key := protocol.ShowKey("alpha")

	gen := c.Generation()
	e, ok := c.PutIfGeneration(key, []byte("v1"), gen)
	require.True(t, ok)
	assert.Equal(t, xxhash.Sum64([]byte("v1")), e.Digest)

	// Invalidating an absent key still advances the generation.
	gen = c.Generation()
	c.Invalidate(protocol.KeyList)
	assert.Greater(t, c.Generation(), gen)

	e, ok = c.PutIfGeneration(key, []byte("v2"), gen)
	assert.False(t, ok)
	assert.Equal(t, Digest([]byte("v2")), e.Digest)
	got, _ := c.Get(key)
	assert.Equal(t, "v1", string(got))

	for _, invalidate := range []func(){
		func() { c.InvalidatePrefix(protocol.PrefixAll) },
		func() { c.Clear() },
	} {
		gen = c.Generation()
		invalidate()
		_, ok = c.PutIfGeneration(key, []byte("stale"), gen)
		assert.False(t, ok)
	}
	assert.Equal(t, int64(3), c.Stats().StalePuts)

	_, ok = c.PutIfGeneration(key, []byte("v3"), c.Generation())
	assert.True(t, ok)
}
