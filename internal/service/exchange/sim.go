// Package exchange holds the built-in exchange drivers. The simulator is
// the development driver; production deployments inject their own
// ExchangeClient through the DI entry point.
package exchange

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"marketsync/internal/domain/models"
	"marketsync/internal/domain/repository"
	"marketsync/pkg/util"
)

// Sim is a deterministic in-process exchange. Prices follow a per-symbol
// sine walk derived from the symbol name, so candles are reproducible
// across restarts and between FetchOHLCV and FetchTicker.
type Sim struct {
	mu     sync.Mutex
	orders map[string]*models.TrackedOrder
	closed map[string]*models.TrackedOrder
	seq    int
}

var _ repository.ExchangeClient = (*Sim)(nil)

func NewSim() *Sim {
	return &Sim{
		orders: make(map[string]*models.TrackedOrder),
		closed: make(map[string]*models.TrackedOrder),
	}
}

// price is continuous in t so adjacent candles join up.
func priceAt(symbol string, tMs int64) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	seed := float64(h.Sum32()%9000 + 1000)
	t := float64(tMs) / 1000
	return seed * (1 + 0.03*math.Sin(t/3600) + 0.01*math.Sin(t/137))
}

func (s *Sim) FetchOHLCV(ctx context.Context, symbol, interval string, since int64, limit int, until int64) ([]models.Bar, error) {
	intervalMs, err := util.IntervalMs(interval)
	if err != nil {
		return nil, err
	}
	start := util.AlignMs(since, intervalMs)
	out := make([]models.Bar, 0, limit)
	for ts := start; ts < until && len(out) < limit; ts += intervalMs {
		open := priceAt(symbol, ts)
		cls := priceAt(symbol, ts+intervalMs-1)
		mid := priceAt(symbol, ts+intervalMs/2)
		out = append(out, models.Bar{
			Timestamp: ts,
			Open:      open,
			High:      math.Max(math.Max(open, cls), mid),
			Low:       math.Min(math.Min(open, cls), mid),
			Close:     cls,
			Volume:    10 + 5*math.Abs(math.Sin(float64(ts)/1e7)),
		})
	}
	return out, nil
}

func (s *Sim) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	now := time.Now().UnixMilli()
	last := priceAt(symbol, now)
	dayAgo := priceAt(symbol, now-86_400_000)
	return &models.Ticker{
		Symbol:      symbol,
		Last:        last,
		BaseVolume:  1000,
		QuoteVolume: 1000 * last,
		ChangePct:   (last - dayAgo) / dayAgo * 100,
		Timestamp:   now,
	}, nil
}

func (s *Sim) FetchTickers(ctx context.Context, symbols []string) (map[string]*models.Ticker, error) {
	out := make(map[string]*models.Ticker, len(symbols))
	for _, symbol := range symbols {
		t, err := s.FetchTicker(ctx, symbol)
		if err != nil {
			return nil, err
		}
		out[symbol] = t
	}
	return out, nil
}

// WatchTickers is not supported; the aggregator falls back to polling.
func (s *Sim) WatchTickers(ctx context.Context, symbols []string) (<-chan map[string]*models.Ticker, <-chan error) {
	updates := make(chan map[string]*models.Ticker)
	errs := make(chan error)
	close(updates)
	close(errs)
	return updates, errs
}

func (s *Sim) CreateOrder(ctx context.Context, symbol, side, orderType string, amount, price float64) (*models.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	o := &models.TrackedOrder{
		ID:        "sim-" + time.Now().Format("20060102150405") + "-" + string(rune('a'+s.seq%26)),
		Symbol:    symbol,
		Side:      side,
		Status:    models.StatusOpen,
		Price:     price,
		Amount:    amount,
		Remaining: amount,
		Timestamp: time.Now().UnixMilli(),
	}
	s.orders[o.ID] = o
	return o, nil
}

// FetchOpenOrders fills each open order by a quarter per observation, so
// an order closes after four reconciliation passes.
func (s *Sim) FetchOpenOrders(ctx context.Context, symbol string) ([]*models.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.TrackedOrder, 0, len(s.orders))
	for id, o := range s.orders {
		if o.Symbol != symbol {
			continue
		}
		step := o.Amount / 4
		o.Filled = math.Min(o.Amount, o.Filled+step)
		o.Remaining = o.Amount - o.Filled
		o.Cost = o.Filled * o.Price
		if o.Remaining == 0 {
			o.Status = models.StatusClosed
			s.closed[id] = o
			delete(s.orders, id)
			continue
		}
		clone := *o
		out = append(out, &clone)
	}
	return out, nil
}

func (s *Sim) FetchOrder(ctx context.Context, id, symbol string) (*models.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		clone := *o
		return &clone, nil
	}
	if o, ok := s.closed[id]; ok {
		clone := *o
		return &clone, nil
	}
	return nil, repository.ErrOrderArchived
}

func (s *Sim) FetchOrders(ctx context.Context, symbol string) ([]*models.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.TrackedOrder, 0, len(s.orders)+len(s.closed))
	for _, o := range s.orders {
		if o.Symbol == symbol {
			clone := *o
			out = append(out, &clone)
		}
	}
	for _, o := range s.closed {
		if o.Symbol == symbol {
			clone := *o
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *Sim) CancelOrder(ctx context.Context, id, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.Status = models.StatusCanceled
		s.closed[id] = o
		delete(s.orders, id)
	}
	return nil
}

func (s *Sim) Has(capability string) bool {
	return capability == repository.CapFetchTickers
}

func (s *Sim) Close() error { return nil }
