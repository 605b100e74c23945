package repository

import (
	"context"
	"time"

	"marketsync/internal/domain/models"
	"marketsync/internal/domain/repository"
	pkgkafka "marketsync/pkg/kafka"
)

// KafkaPublisher implements EventPublisher over the shared producer, keyed
// by symbol (tickers) or user (orders) so per-entity ordering survives
// partitioning.
type KafkaPublisher struct {
	producer     *pkgkafka.Producer
	tickersTopic string
	ordersTopic  string
}

// NewKafkaPublisher creates the Kafka event publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, tickersTopic, ordersTopic string) repository.EventPublisher {
	return &KafkaPublisher{
		producer:     producer,
		tickersTopic: tickersTopic,
		ordersTopic:  ordersTopic,
	}
}

type tickerBatchEvent struct {
	Tickers   map[string]*models.Ticker `json:"tickers"`
	Timestamp int64                     `json:"t"`
}

func (p *KafkaPublisher) PublishTickers(ctx context.Context, tickers map[string]*models.Ticker) error {
	if len(tickers) == 0 {
		return nil
	}
	ev := tickerBatchEvent{Tickers: tickers, Timestamp: time.Now().UnixMilli()}
	return p.producer.Publish(ctx, p.tickersTopic, []byte("tickers"), ev)
}

type orderEvent struct {
	Kind      string               `json:"kind"`
	Order     *models.TrackedOrder `json:"order"`
	Timestamp int64                `json:"t"`
}

func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, kind string, order *models.TrackedOrder) error {
	ev := orderEvent{Kind: kind, Order: order, Timestamp: time.Now().UnixMilli()}
	return p.producer.Publish(ctx, p.ordersTopic, []byte(order.UserID), ev)
}

func (p *KafkaPublisher) Close() error { return p.producer.Close() }

// NopPublisher discards all events, used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishTickers(context.Context, map[string]*models.Ticker) error { return nil }
func (NopPublisher) PublishOrderEvent(context.Context, string, *models.TrackedOrder) error {
	return nil
}
func (NopPublisher) Close() error { return nil }
