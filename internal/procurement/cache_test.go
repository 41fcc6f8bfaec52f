package procurement

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisOrderCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisOrderCache(client, time.Minute), mr
}

func TestRedisOrderCacheServesSnapshot(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	calls := 0
	load := func(context.Context) (Order, error) {
		calls++
		return receivedOrder(t), nil
	}

	first, err := cache.Get(ctx, 1, load)
	require.NoError(t, err)
	second, err := cache.Get(ctx, 1, load)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.True(t, mr.Exists(orderSnapshotKey(1, 0)))
	require.Equal(t, first.Reference, second.Reference)
	requireDecimal(t, "10", second.Lines[0].QtyReceived)
	requireDecimal(t, "50", second.Totals.ReceivedAmount)

	require.NoError(t, cache.Invalidate(ctx, 1))
	require.False(t, mr.Exists(orderSnapshotKey(1, 0)))
	gen, err := cache.Generation(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), gen)
	_, err = cache.Get(ctx, 1, load)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.True(t, mr.Exists(orderSnapshotKey(1, 1)))
}

func TestRedisOrderCacheDropsLoadRacingCommit(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	stale := withStatus(sentOrder(), OrderStatusSent)
	stale.Version = 3
	fresh := withStatus(sentOrder(), OrderStatusAwaitingReception)
	fresh.Version = 4

	loading := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	var first Order
	go func() {
		var err error
		first, err = cache.Get(ctx, 1, func(context.Context) (Order, error) {
			close(loading)
			<-release
			return stale, nil
		})
		done <- err
	}()

	<-loading
	require.NoError(t, cache.Invalidate(ctx, 1))
	close(release)
	require.NoError(t, <-done)
	require.Equal(t, int64(3), first.Version)

	got, err := cache.Get(ctx, 1, func(context.Context) (Order, error) {
		return fresh, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), got.Version)
	require.Equal(t, OrderStatusAwaitingReception, got.Status)
}

func TestRedisOrderCacheFallsBackWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	mr.Close()

	calls := 0
	order, err := cache.Get(ctx, 1, func(context.Context) (Order, error) {
		calls++
		return sentOrder(), nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, "PO-TEST", order.Reference)
}

func TestRedisOrderCacheDoesNotStoreFailures(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	_, err := cache.Get(ctx, 5, func(context.Context) (Order, error) {
		return Order{}, &NotFoundError{Entity: "order", ID: "5"}
	})
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, mr.Exists(orderSnapshotKey(5, 0)))
}

func TestRedisOrderCacheWithoutClient(t *testing.T) {
	var cache *RedisOrderCache
	order, err := cache.Get(context.Background(), 1, func(context.Context) (Order, error) {
		return sentOrder(), nil
	})
	require.NoError(t, err)
	require.Equal(t, "PO-TEST", order.Reference)
	require.NoError(t, cache.Invalidate(context.Background(), 1))

	_, err = NewRedisOrderCache(nil, time.Minute).Get(context.Background(), 1, nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestServiceUsesCache(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	env := newTestEnv(t)
	env.svc.cache = cache
	order := env.createSentOrder(t, ctx)

	_, err := env.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, mr.Exists(orderSnapshotKey(order.ID, 0)))

	next, err := env.svc.Transition(ctx, TransitionInput{OrderID: order.ID, Target: OrderStatusAwaitingReception})
	require.NoError(t, err)
	require.False(t, mr.Exists(orderSnapshotKey(order.ID, 0)))

	cached, err := env.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, next.Status, cached.Status)
	require.Equal(t, next.Version, cached.Version)
}
