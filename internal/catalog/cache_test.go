package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/elpiji-erp/elpiji/internal/shared"
)

type countingLookup struct {
	stubLookup
	calls int
}

func (c *countingLookup) ItemByID(ctx context.Context, id int64) (Item, error) {
	c.calls++
	return c.stubLookup.ItemByID(ctx, id)
}

func TestCachedLookupRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &countingLookup{stubLookup: stubLookup{
		2: {ID: 2, Code: "GAS13", Spec: ConsumableService{RequiresExchange: true, FullItemID: 10, EmptyItemID: 11, DepositItemID: 12}, UnitWeight: decimal.RequireFromString("13")},
		30: {ID: 30, Code: "KIT13", Spec: Bundle{Components: []Component{
			{ItemID: 10, Qty: decimal.NewFromInt(1)},
			{ItemID: 12, Qty: decimal.NewFromInt(1)},
		}}},
	}}
	cached := NewCachedLookup(inner, rdb, time.Minute)
	ctx := shared.ContextWithTenant(context.Background(), 7)

	item, err := cached.ItemByID(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "GAS13", item.Code)
	spec, ok := item.Spec.(ConsumableService)
	require.True(t, ok)
	require.True(t, spec.RequiresExchange)
	require.Equal(t, int64(11), spec.EmptyItemID)

	// Second read must come from cache.
	again, err := cached.ItemByID(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, item.Code, again.Code)
	require.Equal(t, spec, again.Spec)
	require.True(t, item.UnitWeight.Equal(again.UnitWeight))
	require.Equal(t, 1, inner.calls)

	kit, err := cached.ItemByID(ctx, 30)
	require.NoError(t, err)
	bundle, ok := kit.Spec.(Bundle)
	require.True(t, ok)
	require.Len(t, bundle.Components, 2)
}

func TestCachedLookupMissFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cached := NewCachedLookup(&countingLookup{stubLookup: stubLookup{}}, rdb, time.Minute)
	ctx := shared.ContextWithTenant(context.Background(), 7)
	_, err := cached.ItemByID(ctx, 404)
	require.ErrorIs(t, err, ErrItemNotFound)
}
