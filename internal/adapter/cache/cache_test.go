package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/core/domain"
)

func TestCacheable_RejectsStreamingAndHighTemperature(t *testing.T) {
	low := 0.2
	high := 0.9

	assert.True(t, Cacheable(false, &low))
	assert.False(t, Cacheable(false, &high))
	assert.False(t, Cacheable(true, &low))
	assert.True(t, Cacheable(false, nil))
}

func TestKey_StableUnderFieldReordering(t *testing.T) {
	temp := 0.1
	a := domain.CacheKeyInput{Model: "gpt", Messages: []string{"hi"}, Temperature: &temp}
	b := domain.CacheKeyInput{Temperature: &temp, Model: "gpt", Messages: []string{"hi"}}

	keyA, err := Key(a)
	require.NoError(t, err)
	keyB, err := Key(b)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
}

func TestCache_GetSetRoundTrip(t *testing.T) {
	c := New(10, time.Minute)
	defer c.Close()

	entry := domain.CacheEntry{Body: []byte(`{"ok":true}`), ContentType: "application/json"}
	c.Set("k1", entry)

	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, entry.Body, got.Body)
}

func TestCache_MissReturnsFalse(t *testing.T) {
	c := New(10, time.Minute)
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestCache_TTLExpires(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	defer c.Close()

	c.Set("k", domain.CacheEntry{Body: []byte("x")})
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}
