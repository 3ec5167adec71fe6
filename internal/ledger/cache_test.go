package ledger

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisInvalidatorDropsItemAndAggregateKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	key := ItemKey{ItemType: ItemFinishedGood, ItemID: 7}
	otherKey := ItemKey{ItemType: ItemRawMaterial, ItemID: 3}
	require.NoError(t, mr.Set(SummaryKey(key), "{}"))
	require.NoError(t, mr.Set(SummaryKey(otherKey), "{}"))
	require.NoError(t, mr.Set(SummaryKeyAll, "{}"))

	NewRedisInvalidator(client, nil).Invalidate(ctx, key)

	require.False(t, mr.Exists(SummaryKey(key)))
	require.False(t, mr.Exists(SummaryKeyAll))
	require.True(t, mr.Exists(SummaryKey(otherKey)))
}

func TestRedisInvalidatorNilSafe(t *testing.T) {
	var inv *RedisInvalidator
	inv.Invalidate(context.Background(), ItemKey{ItemType: ItemFinishedGood, ItemID: 1})
}
