package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	ctx := context.Background()
	c := New()
	base := time.Unix(1700000000, 0)
	c.clock = func() time.Time { return base }

	require.NoError(t, c.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, c.Set(ctx, "b", "2", 0))

	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok, _ = c.Get(ctx, "missing")
	assert.False(t, ok)

	c.clock = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok, "expired entry")

	dropped, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	_, ok, _ = c.Get(ctx, "b")
	assert.True(t, ok, "no-TTL entry survives")

	require.NoError(t, c.Delete(ctx, "b"))
	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)
}
