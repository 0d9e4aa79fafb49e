package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft-engine/market"
)

func TestDueThrottlesPerSymbol(t *testing.T) {
	c := &SnapshotCache{minInterval: 100 * time.Millisecond, lastWrite: make(map[string]time.Time)}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, c.due("A", base))
	assert.False(t, c.due("A", base.Add(50*time.Millisecond)))
	assert.True(t, c.due("B", base.Add(50*time.Millisecond)))
	assert.True(t, c.due("A", base.Add(100*time.Millisecond)))

	c.minInterval = 0
	assert.True(t, c.due("A", base))
}

func TestSnapshotRoundTrip(t *testing.T) {
	addr := os.Getenv("HFT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HFT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := New(ctx, ClientConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	cache := NewSnapshotCache(client, time.Minute, 0, nil)
	symbol := "TEST" + uuid.NewString()[:8]

	_, err = cache.GetSnapshot(ctx, symbol)
	assert.ErrorIs(t, err, ErrNotFound)

	ob := market.NewOrderBook(symbol, market.DefaultConfig())
	snap := ob.UpdateAt(
		[]market.Level{{Price: 99.5, Size: 2}, {Price: 99, Size: 1}},
		[]market.Level{{Price: 100.5, Size: 1.5}},
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	)

	snaps := make(chan market.Snapshot, 1)
	snaps <- snap
	close(snaps)
	require.NoError(t, cache.Run(ctx, snaps))

	got, err := cache.GetSnapshot(ctx, symbol)
	require.NoError(t, err)
	assert.Equal(t, snap.Bids, got.Bids)
	assert.Equal(t, snap.Asks, got.Asks)
	assert.Equal(t, snap.Mid, got.Mid)
	assert.Equal(t, snap.Imbalance, got.Imbalance)
	assert.Equal(t, snap.Timestamp, got.Timestamp)
	assert.Equal(t, market.Level{Price: 99.5, Size: 2}, got.BestBid)
}
