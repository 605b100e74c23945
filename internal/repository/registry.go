package repository

import (
	"context"
	"fmt"
	"sync"

	"marketsync/internal/domain/models"
	"marketsync/internal/domain/repository"
)

// StaticRegistry serves a fixed market set loaded at startup. MarkInactive
// survives until restart, which is the intended recovery point for a symbol
// the upstream rejected.
type StaticRegistry struct {
	mu      sync.RWMutex
	markets map[string]*models.Market
	order   []string
}

var _ repository.MarketRegistry = (*StaticRegistry)(nil)

func NewStaticRegistry(markets []models.Market) *StaticRegistry {
	r := &StaticRegistry{markets: make(map[string]*models.Market, len(markets))}
	for i := range markets {
		m := markets[i]
		if _, ok := r.markets[m.Symbol]; ok {
			continue
		}
		r.markets[m.Symbol] = &m
		r.order = append(r.order, m.Symbol)
	}
	return r
}

func (r *StaticRegistry) ActiveSymbols(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, symbol := range r.order {
		if r.markets[symbol].Active {
			out = append(out, symbol)
		}
	}
	return out, nil
}

func (r *StaticRegistry) Market(ctx context.Context, symbol string) (*models.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown market %q", symbol)
	}
	clone := *m
	return &clone, nil
}

func (r *StaticRegistry) MarkInactive(ctx context.Context, symbols ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, symbol := range symbols {
		if m, ok := r.markets[symbol]; ok {
			m.Active = false
		}
	}
	return nil
}
