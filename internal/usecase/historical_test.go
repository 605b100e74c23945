package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketsync/internal/domain/models"
	"marketsync/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourMs = int64(3_600_000)

func testSyncConfig() HistoricalConfig {
	return HistoricalConfig{
		OverallTimeout:    5 * time.Second,
		FetchTimeout:      time.Second,
		CoverageThreshold: 0.9,
		MaxConcurrent:     2,
		RetryAttempts:     3,
		RetryBackoff:      time.Millisecond,
		RetryBackoffCap:   5 * time.Millisecond,
	}
}

// generateBars returns one bar per interval slot in [since, until).
func generateBars(since, until, intervalMs int64) []models.Bar {
	var out []models.Bar
	for ts := since; ts < until; ts += intervalMs {
		out = append(out, models.Bar{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10})
	}
	return out
}

func newHistorical(t *testing.T, ex *fakeExchange) *HistoricalSync {
	t.Helper()
	guard := newTestGuard(t, ex)
	store := newTestBarStore(t)
	return NewHistoricalSync(guard, store, nil, testSyncConfig(), logger.Nop(), nopMetrics{})
}

func TestGetSeriesValidation(t *testing.T) {
	s := newHistorical(t, &fakeExchange{})
	ctx := context.Background()

	cases := []GetSeriesParams{
		{Symbol: "", Interval: "1h", From: 1, To: 2},
		{Symbol: "BTC/USDT", Interval: "nope", From: 1, To: 2},
		{Symbol: "BTC/USDT", Interval: "1h", From: 0, To: 2},
		{Symbol: "BTC/USDT", Interval: "1h", From: 5, To: 5},
	}
	for _, p := range cases {
		_, err := s.GetSeries(ctx, p)
		assert.ErrorIs(t, err, ErrValidation, "%+v", p)
	}
}

func TestExhaustedRetriesRecycleClient(t *testing.T) {
	orig := &fakeExchange{
		ohlcvFn: func(symbol, interval string, since int64, limit int, until int64) ([]models.Bar, error) {
			return nil, errors.New("upstream flake")
		},
	}
	fresh := &fakeExchange{}
	guard := newRecyclingGuard(t, orig, fresh)
	s := NewHistoricalSync(guard, newTestBarStore(t), nil, testSyncConfig(), logger.Nop(), nopMetrics{})

	from := (time.Now().UnixMilli()/hourMs)*hourMs - 72*hourMs
	_, err := s.GetSeries(context.Background(), GetSeriesParams{Symbol: "BTC/USDT", Interval: "1h", From: from, To: from + 4*hourMs})
	require.NoError(t, err)

	assert.Equal(t, s.cfg.RetryAttempts, orig.ohlcvCount())
	assert.Same(t, fresh, guard.Client())
}

func TestFullBackfillEmptyCache(t *testing.T) {
	ex := &fakeExchange{
		ohlcvFn: func(symbol, interval string, since int64, limit int, until int64) ([]models.Bar, error) {
			return generateBars(since, until, hourMs), nil
		},
	}
	s := newHistorical(t, ex)

	// Window ends well before now, so the forming bar never clips it.
	from := (time.Now().UnixMilli() / hourMs) * hourMs
	from -= 72 * hourMs
	to := from + 36*hourMs

	bars, err := s.GetSeries(context.Background(), GetSeriesParams{Symbol: "BTC/USDT", Interval: "1h", From: from, To: to})
	require.NoError(t, err)
	require.Len(t, bars, 36)
	for i, b := range bars {
		assert.Equal(t, from+int64(i)*hourMs, b.Timestamp)
	}
	assert.GreaterOrEqual(t, ex.ohlcvCount(), 1)
}

func TestBannedSkipsUpstreamAndReturnsCache(t *testing.T) {
	ex := &fakeExchange{
		ohlcvFn: func(string, string, int64, int, int64) ([]models.Bar, error) {
			t.Fatal("upstream must not be called while banned")
			return nil, nil
		},
	}
	guard := newTestGuard(t, ex)
	store := newTestBarStore(t)
	s := NewHistoricalSync(guard, store, nil, testSyncConfig(), logger.Nop(), nopMetrics{})

	from := (time.Now().UnixMilli()/hourMs)*hourMs - 72*hourMs
	seeded := generateBars(from, from+2*hourMs, hourMs)
	require.NoError(t, store.Write(context.Background(), "BTC/USDT", "1h", seeded))

	guard.SetBan(context.Background(), time.Now().UnixMilli()+60_000)

	bars, err := s.GetSeries(context.Background(), GetSeriesParams{Symbol: "BTC/USDT", Interval: "1h", From: from, To: from + 10*hourMs})
	require.NoError(t, err)
	assert.Equal(t, seeded, bars)
	assert.Equal(t, 0, ex.ohlcvCount())
}

func TestCoverageThresholdShortCircuitsUpstream(t *testing.T) {
	ex := &fakeExchange{
		ohlcvFn: func(string, string, int64, int, int64) ([]models.Bar, error) {
			t.Fatal("upstream must not be called at sufficient coverage")
			return nil, nil
		},
	}
	guard := newTestGuard(t, ex)
	store := newTestBarStore(t)
	s := NewHistoricalSync(guard, store, nil, testSyncConfig(), logger.Nop(), nopMetrics{})

	from := (time.Now().UnixMilli()/hourMs)*hourMs - 72*hourMs
	// 9 of 10 expected bars cached: exactly the 90% threshold.
	require.NoError(t, store.Write(context.Background(), "BTC/USDT", "1h", generateBars(from, from+9*hourMs, hourMs)))

	bars, err := s.GetSeries(context.Background(), GetSeriesParams{Symbol: "BTC/USDT", Interval: "1h", From: from, To: from + 10*hourMs})
	require.NoError(t, err)
	assert.Len(t, bars, 9)
	assert.Equal(t, 0, ex.ohlcvCount())
}

func TestIdenticalConcurrentRequestsShareOneBackfill(t *testing.T) {
	ex := &fakeExchange{
		fetchDelay: 50 * time.Millisecond,
		ohlcvFn: func(symbol, interval string, since int64, limit int, until int64) ([]models.Bar, error) {
			return generateBars(since, until, hourMs), nil
		},
	}
	s := newHistorical(t, ex)

	from := (time.Now().UnixMilli()/hourMs)*hourMs - 72*hourMs
	p := GetSeriesParams{Symbol: "BTC/USDT", Interval: "1h", From: from, To: from + 10*hourMs}

	var wg sync.WaitGroup
	results := make([][]models.Bar, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			bars, err := s.GetSeries(context.Background(), p)
			require.NoError(t, err)
			results[i] = bars
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ex.ohlcvCount(), "one gap covers the window; dedup must collapse the second request")
	assert.Equal(t, results[0], results[1])
	assert.Len(t, results[0], 10)
}

func TestFailedGapDoesNotAbortSiblings(t *testing.T) {
	from := (time.Now().UnixMilli()/hourMs)*hourMs - 72*hourMs
	badStart := from + 4*hourMs

	ex := &fakeExchange{
		ohlcvFn: func(symbol, interval string, since int64, limit int, until int64) ([]models.Bar, error) {
			if since == badStart {
				return nil, errors.New("gateway timeout")
			}
			return generateBars(since, until, hourMs), nil
		},
	}
	guard := newTestGuard(t, ex)
	store := newTestBarStore(t)
	s := NewHistoricalSync(guard, store, nil, testSyncConfig(), logger.Nop(), nopMetrics{})

	// Seed a bar at +3h and one at +6h to split the window into three gaps,
	// the middle of which starts at badStart.
	require.NoError(t, store.Write(context.Background(), "BTC/USDT", "1h",
		[]models.Bar{{Timestamp: from + 3*hourMs, Close: 1}, {Timestamp: from + 6*hourMs, Close: 1}}))

	bars, err := s.GetSeries(context.Background(), GetSeriesParams{Symbol: "BTC/USDT", Interval: "1h", From: from, To: from + 10*hourMs})
	require.NoError(t, err, "failed gap must degrade, not error")

	got := make(map[int64]bool, len(bars))
	for _, b := range bars {
		got[b.Timestamp] = true
	}
	// Sibling gaps filled in.
	for _, ts := range []int64{from, from + hourMs, from + 2*hourMs, from + 7*hourMs, from + 9*hourMs} {
		assert.True(t, got[ts], "missing bar %d", ts)
	}
	// The failed gap stayed missing.
	assert.False(t, got[badStart+hourMs])
}

func TestTimeoutReturnsCachedData(t *testing.T) {
	release := make(chan struct{})
	ex := &fakeExchange{
		ohlcvFn: func(symbol, interval string, since int64, limit int, until int64) ([]models.Bar, error) {
			<-release
			return nil, errors.New("too late")
		},
	}
	guard := newTestGuard(t, ex)
	store := newTestBarStore(t)
	cfg := testSyncConfig()
	cfg.OverallTimeout = 20 * time.Millisecond
	s := NewHistoricalSync(guard, store, nil, cfg, logger.Nop(), nopMetrics{})

	from := (time.Now().UnixMilli()/hourMs)*hourMs - 72*hourMs
	seeded := generateBars(from, from+2*hourMs, hourMs)
	require.NoError(t, store.Write(context.Background(), "BTC/USDT", "1h", seeded))

	bars, err := s.GetSeries(context.Background(), GetSeriesParams{Symbol: "BTC/USDT", Interval: "1h", From: from, To: from + 10*hourMs})
	close(release)
	require.NoError(t, err)
	assert.Equal(t, seeded, bars, "timed-out caller gets the cached range")
}
