package repository

import (
	"context"

	"marketsync/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Exchange capability flags checked via ExchangeClient.Has.
const (
	CapWatchTickers = "watchTickers"
	CapFetchTickers = "fetchTickers"
)

// ExchangeClient is the externally supplied exchange capability. All calls
// are subject to upstream rate limiting; callers consult the ban guard
// before every invocation.
//
// FetchOHLCV returns at most limit bars with timestamps in [since, until);
// until is exclusive.
type ExchangeClient interface {
	FetchOHLCV(ctx context.Context, symbol, interval string, since int64, limit int, until int64) ([]models.Bar, error)
	FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error)
	FetchTickers(ctx context.Context, symbols []string) (map[string]*models.Ticker, error)
	// WatchTickers is the streaming variant, available only when
	// Has(CapWatchTickers) is true. Both channels close when the watch ends.
	WatchTickers(ctx context.Context, symbols []string) (<-chan map[string]*models.Ticker, <-chan error)
	FetchOrder(ctx context.Context, id, symbol string) (*models.TrackedOrder, error)
	FetchOrders(ctx context.Context, symbol string) ([]*models.TrackedOrder, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]*models.TrackedOrder, error)
	CreateOrder(ctx context.Context, symbol, side, orderType string, amount, price float64) (*models.TrackedOrder, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	Has(capability string) bool
	Close() error
}

// ExchangeFactory builds a fresh exchange client, used when recycling a
// connection after an unclassifiable upstream failure.
type ExchangeFactory func() (ExchangeClient, error)

// MarketRegistry exposes the active symbol universe and per-symbol metadata.
type MarketRegistry interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
	Market(ctx context.Context, symbol string) (*models.Market, error)
	MarkInactive(ctx context.Context, symbols ...string) error
}

// WalletLedger applies balance changes. Implementations must apply each
// credit atomically under row-level isolation so a settlement and a
// cancel-refund on the same wallet cannot race.
type WalletLedger interface {
	Credit(ctx context.Context, userID, currency string, amount decimal.Decimal) error
}

// OrderStore persists tracked-order records.
type OrderStore interface {
	Upsert(ctx context.Context, order *models.TrackedOrder) error
	Delete(ctx context.Context, id string) error
}

// Broadcaster fans payloads out to connected subscribers of a route.
type Broadcaster interface {
	Broadcast(route string, payload interface{})
	BroadcastUser(route, userID string, payload interface{})
	HasSubscribers(route string) bool
}

// EventPublisher emits domain events for downstream consumers.
type EventPublisher interface {
	PublishTickers(ctx context.Context, tickers map[string]*models.Ticker) error
	PublishOrderEvent(ctx context.Context, kind string, order *models.TrackedOrder) error
	Close() error
}

// Metrics records operational counters and latencies.
type Metrics interface {
	RecordUpstreamCall(op string)
	RecordError(kind string)
	RecordBan(untilMs int64)
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
	RecordGapFetch(symbol string)
	RecordBroadcast(route string, size int)
	RecordLatency(op string, seconds float64)
}
