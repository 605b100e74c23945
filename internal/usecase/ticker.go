package usecase

import (
	"context"
	"sync"
	"time"

	"marketsync/internal/domain/models"
	"marketsync/internal/domain/repository"
	"marketsync/internal/service/banguard"
	"marketsync/pkg/cache"
	"marketsync/pkg/logger"
)

// Broadcast routes.
const (
	RouteTickers = "tickers"
	RouteOrders  = "orders"
)

const tickersCacheKey = "tickers:last"

// TickerConfig tunes the live ticker loop.
type TickerConfig struct {
	FlushInterval   time.Duration
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	BanSleepSegment time.Duration
	CacheTTL        time.Duration
}

// TickerAggregator is the process-wide live ticker loop. It runs while at
// least one subscriber is connected, either consuming a push stream into a
// flush buffer or bulk-polling, and keeps the last ticker set cached for
// newly connecting subscribers.
type TickerAggregator struct {
	guard     *banguard.Guard
	registry  repository.MarketRegistry
	cache     cache.Service
	hub       repository.Broadcaster
	publisher repository.EventPublisher
	cfg       TickerConfig
	log       *logger.Logger
	metrics   repository.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	bufMu sync.Mutex
	buf   map[string]*models.Ticker
}

// NewTickerAggregator creates the aggregator.
func NewTickerAggregator(
	guard *banguard.Guard,
	registry repository.MarketRegistry,
	c cache.Service,
	hub repository.Broadcaster,
	publisher repository.EventPublisher,
	cfg TickerConfig,
	log *logger.Logger,
	metrics repository.Metrics,
) *TickerAggregator {
	return &TickerAggregator{
		guard:     guard,
		registry:  registry,
		cache:     c,
		hub:       hub,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		buf:       make(map[string]*models.Ticker),
	}
}

// Start launches the loop if it is not already running. Safe to call on
// every subscribe; the loop exits on its own when subscribers drop to zero
// and a later Start revives it.
func (a *TickerAggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.running = true
	a.cancel = cancel
	go a.run(ctx)
}

// Stop halts the loop, for shutdown and tests.
func (a *TickerAggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running && a.cancel != nil {
		a.cancel()
	}
}

// LastSnapshot returns the cached ticker set for a newly connecting
// subscriber's initial frame.
func (a *TickerAggregator) LastSnapshot(ctx context.Context) map[string]*models.Ticker {
	var snap map[string]*models.Ticker
	if err := a.cache.Get(ctx, tickersCacheKey, &snap); err != nil {
		return map[string]*models.Ticker{}
	}
	return snap
}

func (a *TickerAggregator) run(ctx context.Context) {
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()
	a.log.Info("ticker loop started")

	for {
		if ctx.Err() != nil {
			return
		}
		if !a.hub.HasSubscribers(RouteTickers) {
			a.log.Info("ticker loop idle, exiting")
			return
		}
		if a.guard.IsBanned(a.guard.UnblockTime(ctx)) {
			a.guard.SleepWhileBanned(ctx, a.cfg.BanSleepSegment)
			continue
		}

		symbols, err := a.registry.ActiveSymbols(ctx)
		if err != nil {
			a.log.Error("active symbols", logger.Error(err))
			sleepCtx(ctx, a.cfg.ErrorBackoff)
			continue
		}
		if len(symbols) == 0 {
			sleepCtx(ctx, a.cfg.PollInterval)
			continue
		}

		client := a.guard.Client()
		if client.Has(repository.CapWatchTickers) {
			a.watch(ctx, client, symbols)
		} else {
			a.pollOnce(ctx, client, symbols)
			sleepCtx(ctx, a.cfg.PollInterval)
		}
	}
}

// watch consumes the push stream, accumulating updates into the flush
// buffer so broadcast and cache-write frequency stay bounded. Returning
// forces a full resubscribe; a lingering subscription to a broken symbol
// set can poison the stream.
func (a *TickerAggregator) watch(ctx context.Context, client repository.ExchangeClient, symbols []string) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.metrics.RecordUpstreamCall("watchTickers")
	updates, errs := client.WatchTickers(wctx, symbols)
	flush := time.NewTicker(a.cfg.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flush.C:
			if !a.hub.HasSubscribers(RouteTickers) {
				return
			}
			a.Flush(ctx)
		case batch, ok := <-updates:
			if !ok {
				return
			}
			a.accumulate(batch)
		case err, ok := <-errs:
			if !ok {
				return
			}
			a.handleUpstreamError(ctx, err)
			return
		}
	}
}

// pollOnce bulk-fetches all tickers. The result is already a full snapshot,
// so it broadcasts and persists immediately without buffering.
func (a *TickerAggregator) pollOnce(ctx context.Context, client repository.ExchangeClient, symbols []string) {
	a.metrics.RecordUpstreamCall("fetchTickers")
	tickers, err := client.FetchTickers(ctx, symbols)
	if err != nil {
		a.handleUpstreamError(ctx, err)
		return
	}
	normalized := make(map[string]*models.Ticker, len(tickers))
	for symbol, t := range tickers {
		normalized[symbol] = normalize(symbol, t)
	}
	a.emit(ctx, normalized)
}

func (a *TickerAggregator) accumulate(batch map[string]*models.Ticker) {
	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	for symbol, t := range batch {
		a.buf[symbol] = normalize(symbol, t)
	}
}

// Flush broadcasts and persists the accumulated buffer, then clears it.
func (a *TickerAggregator) Flush(ctx context.Context) {
	a.bufMu.Lock()
	if len(a.buf) == 0 {
		a.bufMu.Unlock()
		return
	}
	pending := a.buf
	a.buf = make(map[string]*models.Ticker)
	a.bufMu.Unlock()

	a.emit(ctx, pending)
}

// emit filters a ticker set to currently registered symbols, broadcasts it,
// merges it into the cached snapshot, and publishes the batch event.
func (a *TickerAggregator) emit(ctx context.Context, tickers map[string]*models.Ticker) {
	if symbols, err := a.registry.ActiveSymbols(ctx); err == nil {
		registered := make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			registered[s] = struct{}{}
		}
		for symbol := range tickers {
			if _, ok := registered[symbol]; !ok {
				delete(tickers, symbol)
			}
		}
	}
	if len(tickers) == 0 {
		return
	}

	a.hub.Broadcast(RouteTickers, tickers)
	a.metrics.RecordBroadcast(RouteTickers, len(tickers))

	// Merge, not replace: symbols absent from this cycle keep their last
	// known value.
	snap := a.LastSnapshot(ctx)
	for symbol, t := range tickers {
		snap[symbol] = t
	}
	if err := a.cache.Set(ctx, tickersCacheKey, snap, a.cfg.CacheTTL); err != nil {
		a.log.Warn("ticker cache write", logger.Error(err))
	}
	if err := a.publisher.PublishTickers(ctx, tickers); err != nil {
		a.log.Warn("ticker publish", logger.Error(err))
	}
}

func (a *TickerAggregator) handleUpstreamError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if se, ok := repository.AsSymbolError(err); ok {
		a.log.Warn("marking symbols inactive", logger.Strings("symbols", se.Symbols), logger.Error(err))
		if merr := a.registry.MarkInactive(ctx, se.Symbols...); merr != nil {
			a.log.Error("mark inactive", logger.Error(merr))
		}
		return
	}
	if until, ok := a.guard.ClassifyError(err); ok {
		a.guard.SetBan(ctx, until)
		return
	}
	a.metrics.RecordError("ticker_loop")
	a.log.Error("ticker upstream error", logger.Error(err))
	a.guard.RecoverFromError(ctx, err)
	sleepCtx(ctx, a.cfg.ErrorBackoff)
}

func normalize(symbol string, t *models.Ticker) *models.Ticker {
	if t == nil {
		return &models.Ticker{Symbol: symbol}
	}
	return &models.Ticker{
		Symbol:      symbol,
		Last:        t.Last,
		BaseVolume:  t.BaseVolume,
		QuoteVolume: t.QuoteVolume,
		ChangePct:   t.ChangePct,
		Timestamp:   t.Timestamp,
	}
}
