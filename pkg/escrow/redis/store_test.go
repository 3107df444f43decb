package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-labs/arena/pkg/escrow"
	"github.com/argus-labs/arena/pkg/escrow/escrowtest"
	"github.com/argus-labs/arena/pkg/escrow/redis"
)

func newStore(t *testing.T) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	return redis.New(redis.Options{Addr: s.Addr()}, "test"), s
}

func TestStore(t *testing.T) {
	t.Parallel()
	escrowtest.Run(t, func(t *testing.T) escrow.Store {
		store, _ := newStore(t)
		return store
	})
}

func TestStore_KeyLayout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, mr := newStore(t)
	t.Cleanup(func() { _ = store.Close() })

	m := escrowtest.NewMatch(1)
	require.NoError(t, store.Create(ctx, m))
	require.NoError(t, store.Ping(ctx))

	assert.True(t, mr.Exists("test:escrow:match:"+m.MatchID))
	members, err := mr.ZMembers("test:escrow:user:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{m.MatchID}, members)

	score, err := mr.ZScore("test:escrow:user:bob", m.MatchID)
	require.NoError(t, err)
	assert.InDelta(t, float64(m.CreatedAt.UnixMilli()), score, 0.5)
}

func TestStore_SharedClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	a := redis.NewWithClient(client, "")
	m := escrowtest.NewMatch(2)
	require.NoError(t, a.Create(ctx, m))
	assert.True(t, mr.Exists(redis.DefaultNamespace+":escrow:match:"+m.MatchID))

	b := redis.NewWithClient(client, "")
	got, err := b.Get(ctx, m.MatchID)
	require.NoError(t, err)
	assert.Equal(t, m.MatchID, got.MatchID)
	require.NoError(t, b.Close())
}
