package commandqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_SetGet(t *testing.T) {
	cache := newDedupCache(context.Background(), time.Minute)
	defer cache.Stop()

	cache.Set("turn-1", taskResult{value: "cached"})

	result, ok := cache.Get("turn-1")
	assert.True(t, ok)
	assert.Equal(t, "cached", result.value)

	_, ok = cache.Get("turn-2")
	assert.False(t, ok)
}

func TestDedupCache_Expiry(t *testing.T) {
	cache := newDedupCache(context.Background(), 10*time.Millisecond)
	defer cache.Stop()

	cache.Set("turn-1", taskResult{value: "cached"})
	time.Sleep(30 * time.Millisecond)

	_, ok := cache.Get("turn-1")
	assert.False(t, ok)
}

func TestDedupCache_Clear(t *testing.T) {
	cache := newDedupCache(context.Background(), time.Minute)
	defer cache.Stop()

	cache.Set("turn-1", taskResult{})
	cache.Set("turn-2", taskResult{})
	assert.Equal(t, 2, cache.Size())

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}
