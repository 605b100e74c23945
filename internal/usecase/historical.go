package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketsync/internal/domain/models"
	internalrepo "marketsync/internal/repository"
	"marketsync/internal/service/banguard"
	"marketsync/internal/service/gap"
	"marketsync/pkg/cache"
	"marketsync/pkg/logger"
	"marketsync/pkg/util"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrValidation marks bad request parameters, the only hard failure the
// historical path surfaces.
var ErrValidation = errors.New("invalid request parameters")

// HistoricalConfig tunes the sync behaviour. CoverageThreshold and the
// retry policy are deliberate knobs, not derived constants.
type HistoricalConfig struct {
	OverallTimeout    time.Duration
	FetchTimeout      time.Duration
	CoverageThreshold float64
	MaxConcurrent     int
	RetryAttempts     int
	RetryBackoff      time.Duration
	RetryBackoffCap   time.Duration
}

// GetSeriesParams identifies one historical range request.
type GetSeriesParams struct {
	Symbol   string
	Interval string
	From     int64 // epoch ms, inclusive
	To       int64 // epoch ms, exclusive
}

func (p GetSeriesParams) key() string {
	return fmt.Sprintf("%s|%s|%d|%d", p.Symbol, p.Interval, p.From, p.To)
}

// HistoricalSync orchestrates cache reads and gap backfill against the
// upstream exchange. Identical in-flight requests share one backfill; the
// caller's timeout never cancels the shared work.
type HistoricalSync struct {
	guard   *banguard.Guard
	store   *internalrepo.BarStore
	status  cache.Service
	cfg     HistoricalConfig
	log     *logger.Logger
	metrics domainMetrics
	group   singleflight.Group
	now     func() int64
}

type domainMetrics interface {
	RecordUpstreamCall(op string)
	RecordError(kind string)
	RecordGapFetch(symbol string)
	RecordLatency(op string, seconds float64)
}

// NewHistoricalSync creates the historical sync service.
func NewHistoricalSync(
	guard *banguard.Guard,
	store *internalrepo.BarStore,
	status cache.Service,
	cfg HistoricalConfig,
	log *logger.Logger,
	metrics domainMetrics,
) *HistoricalSync {
	return &HistoricalSync{
		guard:   guard,
		store:   store,
		status:  status,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// GetSeries returns the bars for [From, To), backfilling gaps from upstream
// where possible. Everything past parameter validation fails soft: a
// misbehaving upstream degrades to stale or partial data, never an error.
func (s *HistoricalSync) GetSeries(ctx context.Context, p GetSeriesParams) ([]models.Bar, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", ErrValidation)
	}
	intervalMs, err := util.IntervalMs(p.Interval)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if p.From <= 0 || p.To <= p.From {
		return nil, fmt.Errorf("%w: need 0 < from < to", ErrValidation)
	}

	start := time.Now()
	defer func() {
		s.metrics.RecordLatency("historical_sync", time.Since(start).Seconds())
	}()

	// The shared work runs on a detached context: a timed-out caller walks
	// away while the backfill keeps going for deduplicated followers and
	// for the cache.
	ch := s.group.DoChan(p.key(), func() (interface{}, error) {
		return s.sync(context.WithoutCancel(ctx), p, intervalMs), nil
	})

	select {
	case res := <-ch:
		bars, _ := res.Val.([]models.Bar)
		return bars, nil
	case <-time.After(s.cfg.OverallTimeout):
		return s.readFallback(ctx, p), nil
	case <-ctx.Done():
		return s.readFallback(ctx, p), nil
	}
}

// sync performs one deduplicated backfill pass and returns the cached range.
func (s *HistoricalSync) sync(ctx context.Context, p GetSeriesParams, intervalMs int64) []models.Bar {
	if s.guard.IsBanned(s.guard.UnblockTime(ctx)) {
		return s.readFallback(ctx, p)
	}

	cached, err := s.store.Read(ctx, p.Symbol, p.Interval, p.From, p.To-1)
	if err != nil {
		s.log.Warn("historical cache read", logger.String("symbol", p.Symbol), logger.Error(err))
		cached = nil
	}

	expected := (p.To - p.From + intervalMs - 1) / intervalMs
	if expected > 0 && float64(len(cached)) >= s.cfg.CoverageThreshold*float64(expected) {
		return cached
	}

	gaps := gap.FindGaps(cached, p.From, p.To, intervalMs, s.now())
	if len(gaps) == 0 {
		return cached
	}

	s.writeStatus(ctx, p.Symbol, p.Interval, "syncing", 0)
	done := 0
	for start := 0; start < len(gaps); start += s.cfg.MaxConcurrent {
		end := start + s.cfg.MaxConcurrent
		if end > len(gaps) {
			end = len(gaps)
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, missing := range gaps[start:end] {
			missing := missing
			g.Go(func() error {
				// A failed gap is abandoned, never propagated: its batch
				// siblings and later batches still run.
				s.fetchGap(gctx, p, missing, intervalMs)
				return nil
			})
		}
		_ = g.Wait()
		done = end
		s.writeStatus(ctx, p.Symbol, p.Interval, "syncing", done*100/len(gaps))
	}
	s.writeStatus(ctx, p.Symbol, p.Interval, "completed", 100)

	out, err := s.store.Read(ctx, p.Symbol, p.Interval, p.From, p.To-1)
	if err != nil {
		return cached
	}
	return out
}

// fetchGap fetches one gap with capped exponential backoff, merging any
// result into the store.
func (s *HistoricalSync) fetchGap(ctx context.Context, p GetSeriesParams, g models.Gap, intervalMs int64) {
	backoff := s.cfg.RetryBackoff
	for attempt := 1; attempt <= s.cfg.RetryAttempts; attempt++ {
		if s.guard.IsBanned(s.guard.UnblockTime(ctx)) {
			return
		}
		// Re-clip against the forming bar: time moved on since planning.
		end := g.End
		if limit := s.now() - intervalMs; limit < end {
			end = limit
		}
		if end <= g.Start {
			return
		}
		// end is exclusive, so the bar count is the ceiling of the span.
		limit := int((end - g.Start + intervalMs - 1) / intervalMs)

		s.metrics.RecordUpstreamCall("fetchOHLCV")
		s.metrics.RecordGapFetch(p.Symbol)
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		bars, err := s.guard.Client().FetchOHLCV(fctx, p.Symbol, p.Interval, g.Start, limit, end)
		cancel()
		if err == nil {
			if werr := s.store.Write(ctx, p.Symbol, p.Interval, bars); werr != nil {
				s.log.Error("gap merge", logger.String("symbol", p.Symbol), logger.Error(werr))
			}
			return
		}
		if until, ok := s.guard.ClassifyError(err); ok {
			s.guard.SetBan(ctx, until)
			return
		}
		s.metrics.RecordError("gap_fetch")
		s.log.Warn("gap fetch failed",
			logger.String("symbol", p.Symbol),
			logger.Int64("gap_start", g.Start),
			logger.Int("attempt", attempt),
			logger.Error(err))
		if attempt == s.cfg.RetryAttempts {
			s.guard.RecoverFromError(ctx, err)
			return
		}
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > s.cfg.RetryBackoffCap {
			backoff = s.cfg.RetryBackoffCap
		}
	}
}

func (s *HistoricalSync) readFallback(ctx context.Context, p GetSeriesParams) []models.Bar {
	bars, err := s.store.Read(ctx, p.Symbol, p.Interval, p.From, p.To-1)
	if err != nil {
		return nil
	}
	return bars
}

// SyncStatus is the last reported state of a backfill for one series.
type SyncStatus struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Updated  int64  `json:"updatedAt"`
}

func (s *HistoricalSync) writeStatus(ctx context.Context, symbol, interval, status string, progress int) {
	if s.status == nil {
		return
	}
	key := cache.Key("sync", symbol, interval)
	_ = s.status.Set(ctx, key, SyncStatus{Status: status, Progress: progress, Updated: s.now()}, 10*time.Minute)
}

// Status returns the last reported backfill state for a series, if any.
func (s *HistoricalSync) Status(ctx context.Context, symbol, interval string) (SyncStatus, bool) {
	var st SyncStatus
	if s.status == nil {
		return st, false
	}
	if err := s.status.Get(ctx, cache.Key("sync", symbol, interval), &st); err != nil {
		return SyncStatus{}, false
	}
	return st, true
}

// SetNowFunc overrides the clock, for tests.
func (s *HistoricalSync) SetNowFunc(now func() int64) { s.now = now }

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
