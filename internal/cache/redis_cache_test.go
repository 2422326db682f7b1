package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/pos/internal/domain"
)

func TestSummaryKey(t *testing.T) {
	assert.Equal(t, "eod:summary:store-1:2026-03-14", SummaryKey("store-1", "2026-03-14"))
}

func TestNoopSummaryCacheNeverHits(t *testing.T) {
	var c SummaryCache = NoopSummaryCache{}
	require.NoError(t, c.Set(context.Background(), domain.PreEODSummary{StoreID: "s", OperationalDate: "d"}, time.Minute))
	_, ok, err := c.Get(context.Background(), "s", "d")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSummaryCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("KASIRINAJA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KASIRINAJA_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c := NewRedisSummaryCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	summary := domain.PreEODSummary{
		StoreID:         "store-test",
		OperationalDate: "2026-03-14",
		CompletedCount:  3,
		NetRevenue:      decimal.RequireFromString("75.50"),
	}
	require.NoError(t, c.Set(ctx, summary, time.Minute))

	got, ok, err := c.Get(ctx, "store-test", "2026-03-14")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.CompletedCount)
	assert.True(t, got.NetRevenue.Equal(summary.NetRevenue))

	require.NoError(t, c.Invalidate(ctx, "store-test", "2026-03-14"))
	_, ok, err = c.Get(ctx, "store-test", "2026-03-14")
	require.NoError(t, err)
	assert.False(t, ok)
}
