package repository

import (
	"context"
	"sort"
	"testing"

	"marketsync/internal/domain/models"
	"marketsync/pkg/blobstore"
	"marketsync/pkg/cache"
	"marketsync/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopMetrics struct{}

func (nopMetrics) RecordCacheHit(string)  {}
func (nopMetrics) RecordCacheMiss(string) {}
func (nopMetrics) RecordError(string)     {}

func newTestStore(t *testing.T) *BarStore {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	return NewBarStore(mem, blobstore.NewMemoryStore(), 0, logger.Nop(), nopMetrics{})
}

func mkBars(ts ...int64) []models.Bar {
	out := make([]models.Bar, len(ts))
	for i, t := range ts {
		out[i] = models.Bar{Timestamp: t, Open: float64(t), Close: float64(t) + 1}
	}
	return out
}

func TestWriteThenReadSortedUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "BTC/USDT", "1h", mkBars(3000, 1000, 2000, 2000)))

	got, err := s.Read(ctx, "BTC/USDT", "1h", 0, 10_000)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
		return got[i].Timestamp < got[j].Timestamp
	}))
	for i := 1; i < len(got); i++ {
		assert.NotEqual(t, got[i-1].Timestamp, got[i].Timestamp)
	}
}

func TestWriteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	batch := mkBars(1000, 2000, 3000)

	require.NoError(t, s.Write(ctx, "BTC/USDT", "1h", batch))
	once, err := s.Read(ctx, "BTC/USDT", "1h", 0, 10_000)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "BTC/USDT", "1h", batch))
	twice, err := s.Read(ctx, "BTC/USDT", "1h", 0, 10_000)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestWriteFirstWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "BTC/USDT", "1h", []models.Bar{{Timestamp: 1000, Close: 42}}))
	require.NoError(t, s.Write(ctx, "BTC/USDT", "1h", []models.Bar{{Timestamp: 1000, Close: 99}, {Timestamp: 2000, Close: 7}}))

	got, err := s.Read(ctx, "BTC/USDT", "1h", 0, 10_000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(42), got[0].Close, "cached row must not be overwritten")
	assert.Equal(t, float64(7), got[1].Close)
}

func TestReadRangeBounds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "ETH/USDT", "1h", mkBars(1000, 2000, 3000, 4000, 5000)))

	got, err := s.Read(ctx, "ETH/USDT", "1h", 2000, 4000)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(2000), got[0].Timestamp)
	assert.Equal(t, int64(4000), got[2].Timestamp)

	got, err = s.Read(ctx, "ETH/USDT", "1h", 6000, 9000)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadRepopulatesFastTier(t *testing.T) {
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	durable := blobstore.NewMemoryStore()
	s := NewBarStore(mem, durable, 0, logger.Nop(), nopMetrics{})
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "BTC/USDT", "1h", mkBars(1000, 2000)))

	// Drop the fast tier; the durable tier must still serve the read.
	require.NoError(t, mem.Delete(ctx, "bars:BTC/USDT:1h"))
	got, err := s.Read(ctx, "BTC/USDT", "1h", 0, 10_000)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// And the fast tier is warm again.
	ok, err := mem.Exists(ctx, "bars:BTC/USDT:1h")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeysAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "BTC/USDT", "1h", mkBars(1000)))
	require.NoError(t, s.Write(ctx, "BTC/USDT", "1d", mkBars(2000)))

	h, err := s.Read(ctx, "BTC/USDT", "1h", 0, 10_000)
	require.NoError(t, err)
	d, err := s.Read(ctx, "BTC/USDT", "1d", 0, 10_000)
	require.NoError(t, err)
	require.Len(t, h, 1)
	require.Len(t, d, 1)
	assert.Equal(t, int64(1000), h[0].Timestamp)
	assert.Equal(t, int64(2000), d[0].Timestamp)
}
