package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketsync/internal/domain/models"
	"marketsync/internal/domain/repository"
	internalrepo "marketsync/internal/repository"
	"marketsync/internal/service/banguard"
	"marketsync/pkg/blobstore"
	"marketsync/pkg/cache"
	"marketsync/pkg/logger"

	"github.com/shopspring/decimal"
)

type nopMetrics struct{}

func (nopMetrics) RecordUpstreamCall(string)     {}
func (nopMetrics) RecordError(string)            {}
func (nopMetrics) RecordBan(int64)               {}
func (nopMetrics) RecordCacheHit(string)         {}
func (nopMetrics) RecordCacheMiss(string)        {}
func (nopMetrics) RecordGapFetch(string)         {}
func (nopMetrics) RecordBroadcast(string, int)   {}
func (nopMetrics) RecordLatency(string, float64) {}

// fakeExchange lets each test plug the calls it cares about and counts
// invocations.
type fakeExchange struct {
	mu           sync.Mutex
	ohlcvCalls   int
	tickersCalls int
	openCalls    int
	ohlcvFn      func(symbol, interval string, since int64, limit int, until int64) ([]models.Bar, error)
	tickersFn    func(symbols []string) (map[string]*models.Ticker, error)
	openOrdersFn func(symbol string) ([]*models.TrackedOrder, error)
	fetchOrderFn func(id, symbol string) (*models.TrackedOrder, error)
	watchCapable bool
	fetchDelay   time.Duration
}

func (f *fakeExchange) FetchOHLCV(ctx context.Context, symbol, interval string, since int64, limit int, until int64) ([]models.Bar, error) {
	f.mu.Lock()
	f.ohlcvCalls++
	delay := f.fetchDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return f.ohlcvFn(symbol, interval, since, limit, until)
}

func (f *fakeExchange) ohlcvCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ohlcvCalls
}

func (f *fakeExchange) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	return &models.Ticker{Symbol: symbol}, nil
}

func (f *fakeExchange) FetchTickers(ctx context.Context, symbols []string) (map[string]*models.Ticker, error) {
	f.mu.Lock()
	f.tickersCalls++
	f.mu.Unlock()
	return f.tickersFn(symbols)
}

func (f *fakeExchange) WatchTickers(ctx context.Context, symbols []string) (<-chan map[string]*models.Ticker, <-chan error) {
	updates := make(chan map[string]*models.Ticker)
	errs := make(chan error)
	return updates, errs
}

func (f *fakeExchange) FetchOrder(ctx context.Context, id, symbol string) (*models.TrackedOrder, error) {
	return f.fetchOrderFn(id, symbol)
}

func (f *fakeExchange) FetchOrders(ctx context.Context, symbol string) ([]*models.TrackedOrder, error) {
	return nil, nil
}

func (f *fakeExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]*models.TrackedOrder, error) {
	f.mu.Lock()
	f.openCalls++
	f.mu.Unlock()
	return f.openOrdersFn(symbol)
}

func (f *fakeExchange) openOrdersCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls
}

func (f *fakeExchange) CreateOrder(ctx context.Context, symbol, side, orderType string, amount, price float64) (*models.TrackedOrder, error) {
	return nil, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, id, symbol string) error { return nil }

func (f *fakeExchange) Has(capability string) bool {
	return capability == repository.CapWatchTickers && f.watchCapable
}

func (f *fakeExchange) Close() error { return nil }

// fakeHub records broadcasts and reports configurable subscriber presence.
type fakeHub struct {
	mu         sync.Mutex
	subscribed map[string]bool
	broadcasts []fakeBroadcast
}

type fakeBroadcast struct {
	route   string
	userID  string
	payload interface{}
}

func newFakeHub() *fakeHub {
	return &fakeHub{subscribed: map[string]bool{}}
}

func (h *fakeHub) Broadcast(route string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasts = append(h.broadcasts, fakeBroadcast{route: route, payload: payload})
}

func (h *fakeHub) BroadcastUser(route, userID string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasts = append(h.broadcasts, fakeBroadcast{route: route, userID: userID, payload: payload})
}

func (h *fakeHub) HasSubscribers(route string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribed[route]
}

func (h *fakeHub) sent() []fakeBroadcast {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]fakeBroadcast, len(h.broadcasts))
	copy(out, h.broadcasts)
	return out
}

// fakeRegistry serves a static symbol set and records inactivations.
type fakeRegistry struct {
	mu       sync.Mutex
	symbols  []string
	markets  map[string]*models.Market
	inactive []string
}

func (r *fakeRegistry) ActiveSymbols(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.symbols...), nil
}

func (r *fakeRegistry) Market(ctx context.Context, symbol string) (*models.Market, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.markets[symbol], nil
}

func (r *fakeRegistry) MarkInactive(ctx context.Context, symbols ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inactive = append(r.inactive, symbols...)
	return nil
}

// fakeWallet records credits.
type fakeWallet struct {
	mu      sync.Mutex
	credits []walletCredit
}

type walletCredit struct {
	userID   string
	currency string
	amount   decimal.Decimal
}

func (w *fakeWallet) Credit(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.credits = append(w.credits, walletCredit{userID, currency, amount})
	return nil
}

// fakeOrderStore records upserts and deletes.
type fakeOrderStore struct {
	mu      sync.Mutex
	records map[string]*models.TrackedOrder
	deleted []string
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{records: map[string]*models.TrackedOrder{}}
}

func (s *fakeOrderStore) Upsert(ctx context.Context, o *models.TrackedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *o
	s.records[o.ID] = &clone
	return nil
}

func (s *fakeOrderStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	s.deleted = append(s.deleted, id)
	return nil
}

// fakePublisher counts published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) PublishTickers(ctx context.Context, tickers map[string]*models.Ticker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "tickers")
	return nil
}

func (p *fakePublisher) PublishOrderEvent(ctx context.Context, kind string, o *models.TrackedOrder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, kind)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func newTestGuard(t *testing.T, client repository.ExchangeClient) *banguard.Guard {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	return banguard.New(mem, nil, nil, client, logger.Nop(), nopMetrics{}, time.Millisecond)
}

func newRecyclingGuard(t *testing.T, orig, fresh repository.ExchangeClient) *banguard.Guard {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	factory := func() (repository.ExchangeClient, error) { return fresh, nil }
	return banguard.New(mem, nil, factory, orig, logger.Nop(), nopMetrics{}, time.Millisecond)
}

func newTestBarStore(t *testing.T) *internalrepo.BarStore {
	t.Helper()
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	return internalrepo.NewBarStore(mem, blobstore.NewMemoryStore(), 0, logger.Nop(), nopMetrics{})
}
