package repository

import (
	"context"
	"sync"

	"marketsync/internal/domain/models"
	"marketsync/internal/domain/repository"
	"marketsync/pkg/logger"

	"github.com/shopspring/decimal"
)

// MemoryOrderStore keeps tracked-order records in process memory. The
// records are a reconciliation working set, not the system of record, so
// losing them on restart only costs a re-fetch.
type MemoryOrderStore struct {
	mu      sync.RWMutex
	records map[string]*models.TrackedOrder
}

var _ repository.OrderStore = (*MemoryOrderStore)(nil)

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{records: make(map[string]*models.TrackedOrder)}
}

func (s *MemoryOrderStore) Upsert(ctx context.Context, order *models.TrackedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *order
	s.records[order.ID] = &clone
	return nil
}

func (s *MemoryOrderStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// Get returns a copy of the stored record, if any.
func (s *MemoryOrderStore) Get(id string) (*models.TrackedOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.records[id]
	if !ok {
		return nil, false
	}
	clone := *o
	return &clone, true
}

// LogLedger records settlement credits to the log only. A deployment with
// a real wallet service swaps in its own WalletLedger.
type LogLedger struct {
	log *logger.Logger
}

var _ repository.WalletLedger = (*LogLedger)(nil)

func NewLogLedger(log *logger.Logger) *LogLedger {
	return &LogLedger{log: log}
}

func (l *LogLedger) Credit(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	l.log.Info("wallet credit",
		logger.String("user", userID),
		logger.String("currency", currency),
		logger.String("amount", amount.String()))
	return nil
}
