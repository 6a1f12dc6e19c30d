package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*RedisVerdictCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rds.Close() })
	return NewRedisVerdictCache(rds, "verdict:", time.Second), mr
}

func TestVerdictRoundTripAndExpiry(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	v := model.Verdict{IdentityID: 7, ExternalRef: "user_7", CredentialID: 11, Tier: model.TierDeveloper, Role: model.RoleUser}

	_, found, err := c.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "abc", v, time.Minute))
	assert.True(t, mr.Exists("verdict:abc"))

	got, found, err := c.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, v, got)

	mr.FastForward(61 * time.Second)
	_, found, err = c.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, found, "entry must expire after its ttl")
}

func TestDeleteInvalidatesEveryDigest(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	for _, d := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, d, model.Verdict{IdentityID: 1}, time.Minute))
	}

	require.NoError(t, c.Delete(ctx, "a", "b"))
	require.NoError(t, c.Delete(ctx))

	for d, want := range map[string]bool{"a": false, "b": false, "c": true} {
		_, found, err := c.Get(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, want, found, d)
	}
}

func TestCorruptEntryIsAnError(t *testing.T) {
	c, mr := newCache(t)
	require.NoError(t, mr.Set("verdict:bad", "{not json"))

	_, found, err := c.Get(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, found)
}

func TestUnreachableRedisSurfacesError(t *testing.T) {
	c, mr := newCache(t)
	mr.Close()

	_, _, err := c.Get(context.Background(), "abc")
	assert.Error(t, err)
}
