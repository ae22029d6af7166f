// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package capacity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyDistinguishesModels(t *testing.T) {
	assert.NotEqual(t, CacheKey("prompt", "model-a"), CacheKey("prompt", "model-b"))
	assert.Equal(t, CacheKey("prompt", "model-a"), CacheKey("prompt", "model-a"))
	assert.Len(t, CacheKey("prompt", "model-a"), 64)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", "v")
	val, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestRedisCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	c := NewRedisCache(client, time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", "response text")
	val, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "response text", val)

	// Entries expire with the configured TTL.
	srv.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestBrokerUsesCache(t *testing.T) {
	provider := &fakeProvider{results: []interface{}{
		&Result{Content: "fresh", InputTokens: 10, OutputTokens: 20},
	}}
	b := NewBroker(provider, nil, NewMemoryCache(), nil)
	require.NoError(t, b.AddSource(testSource("s", 50, 60, 10000)))

	first, err := b.ExecuteRequest(context.Background(), Request{Prompt: "p", MaxTokens: 100})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := b.ExecuteRequest(context.Background(), Request{Prompt: "p", MaxTokens: 100})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "fresh", second.Content)

	// The provider was only called once.
	assert.Equal(t, 1, provider.calls)
}
