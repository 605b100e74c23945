package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketsync/internal/domain/models"
	"marketsync/internal/domain/repository"
	"marketsync/internal/service/banguard"
	"marketsync/internal/service/ratelimit"
	"marketsync/pkg/logger"

	"github.com/shopspring/decimal"
)

// OrderConfig tunes the live order reconciliation loops.
type OrderConfig struct {
	PassInterval    time.Duration
	FlushInterval   time.Duration
	FetchTimeout    time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	RetryBackoffCap time.Duration
	BanSleepSegment time.Duration
}

// OrderTracker reconciles locally tracked open orders against the upstream
// exchange, one polling loop per subscribed user, and settles wallet
// balances on terminal transitions. Broadcasts flow through a deduplicating
// buffer on an independent flush timer.
type OrderTracker struct {
	guard     *banguard.Guard
	registry  repository.MarketRegistry
	orders    repository.OrderStore
	wallet    repository.WalletLedger
	hub       repository.Broadcaster
	publisher repository.EventPublisher
	limiter   *ratelimit.Limiter
	cfg       OrderConfig
	log       *logger.Logger
	metrics   repository.Metrics

	mu      sync.Mutex
	tracked map[string]map[string]*models.TrackedOrder // userID -> orderID
	loops   map[string]context.CancelFunc

	bufMu    sync.Mutex
	buf      map[string]*models.TrackedOrder // orderID -> latest state
	flushing bool
}

// NewOrderTracker creates the tracker.
func NewOrderTracker(
	guard *banguard.Guard,
	registry repository.MarketRegistry,
	orders repository.OrderStore,
	wallet repository.WalletLedger,
	hub repository.Broadcaster,
	publisher repository.EventPublisher,
	cfg OrderConfig,
	log *logger.Logger,
	metrics repository.Metrics,
) *OrderTracker {
	return &OrderTracker{
		guard:     guard,
		registry:  registry,
		orders:    orders,
		wallet:    wallet,
		hub:       hub,
		publisher: publisher,
		limiter:   ratelimit.New(),
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		tracked:   make(map[string]map[string]*models.TrackedOrder),
		loops:     make(map[string]context.CancelFunc),
		buf:       make(map[string]*models.TrackedOrder),
	}
}

// Subscribe starts the polling loop for a user if one is not running.
func (t *OrderTracker) Subscribe(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.loops[userID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.loops[userID] = cancel
	go t.run(ctx, userID)
}

// Unsubscribe stops the user's loop.
func (t *OrderTracker) Unsubscribe(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked(userID)
}

func (t *OrderTracker) stopLocked(userID string) {
	if cancel, ok := t.loops[userID]; ok {
		cancel()
		delete(t.loops, userID)
	}
	t.limiter.Forget("orders:" + userID)
}

// Stop cancels every loop, for shutdown.
func (t *OrderTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for userID := range t.loops {
		t.stopLocked(userID)
	}
}

// Track registers a newly placed order for reconciliation and queues its
// first broadcast. If the user is subscribed but their loop has gone idle,
// the loop is restarted.
func (t *OrderTracker) Track(order *models.TrackedOrder) {
	if order == nil || order.ID == "" || order.UserID == "" {
		return
	}
	t.mu.Lock()
	byID, ok := t.tracked[order.UserID]
	if !ok {
		byID = make(map[string]*models.TrackedOrder)
		t.tracked[order.UserID] = byID
	}
	byID[order.ID] = order
	t.mu.Unlock()

	if t.hub.HasSubscribers(RouteOrders) {
		t.Subscribe(order.UserID)
	}
	t.enqueue(order)
}

// Untrack removes an order from reconciliation without broadcasting.
func (t *OrderTracker) Untrack(userID, orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if byID, ok := t.tracked[userID]; ok {
		delete(byID, orderID)
		if len(byID) == 0 {
			delete(t.tracked, userID)
		}
	}
}

func (t *OrderTracker) snapshot(userID string) []*models.TrackedOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	byID := t.tracked[userID]
	out := make([]*models.TrackedOrder, 0, len(byID))
	for _, o := range byID {
		out = append(out, o)
	}
	return out
}

func (t *OrderTracker) run(ctx context.Context, userID string) {
	t.log.Info("order loop started", logger.String("user", userID))
	for {
		if ctx.Err() != nil {
			return
		}
		orders := t.snapshot(userID)
		if len(orders) == 0 || !t.hub.HasSubscribers(RouteOrders) {
			t.log.Info("order loop idle, exiting", logger.String("user", userID))
			t.mu.Lock()
			t.stopLocked(userID)
			t.mu.Unlock()
			return
		}
		// One full pass per PassInterval.
		if !t.limiter.Allow("orders:"+userID, 1, 1/t.cfg.PassInterval.Seconds()) {
			sleepCtx(ctx, t.cfg.PassInterval/10)
			continue
		}

		for _, symbol := range distinctSymbols(orders) {
			if ctx.Err() != nil {
				return
			}
			if t.guard.IsBanned(t.guard.UnblockTime(ctx)) {
				t.guard.SleepWhileBanned(ctx, t.cfg.BanSleepSegment)
			}
			open, err := t.fetchOpenOrders(ctx, symbol)
			if err != nil {
				t.log.Warn("open orders fetch abandoned",
					logger.String("user", userID),
					logger.String("symbol", symbol),
					logger.Error(err))
				continue
			}
			t.reconcile(ctx, userID, symbol, open)
		}
	}
}

// fetchOpenOrders applies the shared retry policy: a classifiable ban is
// persisted and stops the attempt cycle; transient errors back off and
// retry up to the configured attempt count.
func (t *OrderTracker) fetchOpenOrders(ctx context.Context, symbol string) ([]*models.TrackedOrder, error) {
	backoff := t.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= t.cfg.RetryAttempts; attempt++ {
		if t.guard.IsBanned(t.guard.UnblockTime(ctx)) {
			return nil, fmt.Errorf("rate-limit ban active")
		}
		t.metrics.RecordUpstreamCall("fetchOpenOrders")
		fctx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
		open, err := t.guard.Client().FetchOpenOrders(fctx, symbol)
		cancel()
		if err == nil {
			return open, nil
		}
		if until, ok := t.guard.ClassifyError(err); ok {
			t.guard.SetBan(ctx, until)
			return nil, err
		}
		t.metrics.RecordError("open_orders_fetch")
		lastErr = err
		if attempt < t.cfg.RetryAttempts {
			if !sleepCtx(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff *= 2
			if backoff > t.cfg.RetryBackoffCap {
				backoff = t.cfg.RetryBackoffCap
			}
		}
	}
	return nil, lastErr
}

// reconcile diffs the upstream open-order set for one symbol against the
// locally tracked records.
func (t *OrderTracker) reconcile(ctx context.Context, userID, symbol string, open []*models.TrackedOrder) {
	upstream := make(map[string]*models.TrackedOrder, len(open))
	for _, o := range open {
		upstream[o.ID] = o
	}

	for _, local := range t.snapshot(userID) {
		if local.Symbol != symbol {
			continue
		}
		remote, stillOpen := upstream[local.ID]
		if stillOpen {
			if local.Changed(remote) {
				t.applyUpdate(ctx, local, remote)
				if local.IsTerminal() {
					t.finalize(ctx, local)
				}
			}
			continue
		}
		t.resolveMissing(ctx, local)
	}
}

// resolveMissing handles an order we track that no longer shows up in the
// open set: it either closed, got canceled, or was archived upstream.
func (t *OrderTracker) resolveMissing(ctx context.Context, local *models.TrackedOrder) {
	t.metrics.RecordUpstreamCall("fetchOrder")
	fctx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	remote, err := t.guard.Client().FetchOrder(fctx, local.ID, local.Symbol)
	cancel()

	switch {
	case errors.Is(err, repository.ErrOrderArchived):
		// Permanently archived upstream: drop tracking and delete locally.
		t.Untrack(local.UserID, local.ID)
		if derr := t.orders.Delete(ctx, local.ID); derr != nil {
			t.log.Error("archived order delete", logger.String("order", local.ID), logger.Error(derr))
		}
		return
	case err != nil:
		if until, ok := t.guard.ClassifyError(err); ok {
			t.guard.SetBan(ctx, until)
			return
		}
		t.metrics.RecordError("order_fetch")
		t.log.Warn("single order fetch failed", logger.String("order", local.ID), logger.Error(err))
		return
	}

	t.applyUpdate(ctx, local, remote)
	if !local.IsTerminal() {
		// Gone from the open set but still reported open: treat as closed.
		local.Status = models.StatusClosed
	}
	t.finalize(ctx, local)
}

// applyUpdate copies the observed upstream state into the local record,
// persists it, and queues a broadcast.
func (t *OrderTracker) applyUpdate(ctx context.Context, local, remote *models.TrackedOrder) {
	local.Status = remote.Status
	local.Filled = remote.Filled
	local.Remaining = remote.Remaining
	local.Cost = remote.Cost
	if remote.Price > 0 {
		local.Price = remote.Price
	}
	if err := t.orders.Upsert(ctx, local); err != nil {
		t.log.Error("order upsert", logger.String("order", local.ID), logger.Error(err))
	}
	t.enqueue(local)
}

// finalize handles a terminal transition: settlement for fills, the
// separate refund path for cancels, and removal from the watchlist.
func (t *OrderTracker) finalize(ctx context.Context, o *models.TrackedOrder) {
	t.Untrack(o.UserID, o.ID)
	if err := t.orders.Upsert(ctx, o); err != nil {
		t.log.Error("terminal order upsert", logger.String("order", o.ID), logger.Error(err))
	}
	t.enqueue(o)

	switch o.Status {
	case models.StatusClosed:
		if err := t.settle(ctx, o); err != nil {
			t.metrics.RecordError("settlement")
			t.log.Error("settlement failed", logger.String("order", o.ID), logger.Error(err))
			return
		}
		if err := t.publisher.PublishOrderEvent(ctx, "settled", o); err != nil {
			t.log.Warn("settlement event publish", logger.Error(err))
		}
	default:
		// Canceled, expired, or rejected: the refund of the reserved
		// balance runs in the cancel path, never through settlement.
		if err := t.publisher.PublishOrderEvent(ctx, o.Status, o); err != nil {
			t.log.Warn("order event publish", logger.Error(err))
		}
	}
}

// settle credits the wallet for a filled order, net of the market's fee:
// taker for buys, maker for sells. The ledger applies the credit
// atomically.
func (t *OrderTracker) settle(ctx context.Context, o *models.TrackedOrder) error {
	market, err := t.registry.Market(ctx, o.Symbol)
	if err != nil {
		return fmt.Errorf("market %s: %w", o.Symbol, err)
	}

	switch o.Side {
	case models.SideBuy:
		qty := decimal.NewFromFloat(o.Filled)
		fee := qty.Mul(decimal.NewFromFloat(market.TakerFee))
		return t.wallet.Credit(ctx, o.UserID, market.Base, qty.Sub(fee))
	case models.SideSell:
		proceeds := decimal.NewFromFloat(o.Cost)
		if proceeds.IsZero() {
			proceeds = decimal.NewFromFloat(o.Filled).Mul(decimal.NewFromFloat(o.Price))
		}
		fee := proceeds.Mul(decimal.NewFromFloat(market.MakerFee))
		return t.wallet.Credit(ctx, o.UserID, market.Quote, proceeds.Sub(fee))
	default:
		return fmt.Errorf("unknown order side %q", o.Side)
	}
}

// enqueue records the latest state for an order in the broadcast buffer,
// last write wins, and lazily arms the flush timer.
func (t *OrderTracker) enqueue(o *models.TrackedOrder) {
	clone := *o
	t.bufMu.Lock()
	t.buf[o.ID] = &clone
	if !t.flushing {
		t.flushing = true
		time.AfterFunc(t.cfg.FlushInterval, t.flushBuffer)
	}
	t.bufMu.Unlock()
}

// flushBuffer broadcasts the buffered updates. The timer does not
// reschedule itself; the next enqueue arms it again.
func (t *OrderTracker) flushBuffer() {
	t.bufMu.Lock()
	pending := t.buf
	t.buf = make(map[string]*models.TrackedOrder)
	t.flushing = false
	t.bufMu.Unlock()

	sent := 0
	for _, o := range pending {
		if o.ID == "" || o.UserID == "" || o.Symbol == "" || o.Status == "" {
			continue
		}
		t.hub.BroadcastUser(RouteOrders, o.UserID, o)
		sent++
	}
	if sent > 0 {
		t.metrics.RecordBroadcast(RouteOrders, sent)
	}
}

// FlushNow drains the broadcast buffer immediately, for tests and shutdown.
func (t *OrderTracker) FlushNow() { t.flushBuffer() }

func distinctSymbols(orders []*models.TrackedOrder) []string {
	seen := make(map[string]struct{}, len(orders))
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}
		out = append(out, o.Symbol)
	}
	return out
}
