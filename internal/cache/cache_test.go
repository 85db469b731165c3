package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryClient_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_EvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("3"), time.Hour))

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)

	got, err := c.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
}

func TestMemoryClient_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "pinned", []byte("p"), 0))
	require.NoError(t, c.Set(ctx, "expiring", []byte("e"), time.Hour))
	now = now.Add(24 * time.Hour)

	got, err := c.Get(ctx, "pinned")
	require.NoError(t, err)
	assert.Equal(t, []byte("p"), got)

	require.NoError(t, c.Set(ctx, "expiring", []byte("e2"), time.Hour))
	require.NoError(t, c.Set(ctx, "third", []byte("t"), time.Hour))

	_, err = c.Get(ctx, "pinned")
	require.NoError(t, err, "expiring entries are evicted before permanent ones")
}
