package di

import (
	"fmt"

	"marketsync/internal/domain/models"
	"marketsync/internal/domain/repository"
	"marketsync/internal/handler/api"
	internalrepo "marketsync/internal/repository"
	"marketsync/internal/service/banguard"
	"marketsync/internal/usecase"
	"marketsync/pkg/blobstore"
	"marketsync/pkg/cache"
	"marketsync/pkg/config"
	xhttp "marketsync/pkg/http"
	pkgkafka "marketsync/pkg/kafka"
	"marketsync/pkg/logger"
	"marketsync/pkg/metrics"
	"marketsync/pkg/server"
	"marketsync/pkg/ws"
)

// Deps bundles the externally supplied capabilities: the exchange
// connection plus the stores a deployment integrates with. cmd/app fills
// these with the built-in development implementations.
type Deps struct {
	Exchange repository.ExchangeClient
	Factory  repository.ExchangeFactory
	Registry repository.MarketRegistry
	Wallet   repository.WalletLedger
	Orders   repository.OrderStore
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCache builds the layered cache, falling back to memory-only when
// Redis is unreachable. Every coordination key the workers share lives
// here, so in the fallback the ban window stops being process-wide.
func ProvideCache(cfg *config.Config, log *logger.Logger) cache.Service {
	redisCache, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		log.Warn("redis unavailable, using memory cache only", logger.Error(err))
		return cache.NewMemoryCache()
	}
	return cache.NewLayeredCache(redisCache)
}

// ProvideBlobStore opens the durable candle store.
func ProvideBlobStore(cfg *config.Config) (blobstore.Store, error) {
	store, err := blobstore.NewBadgerStore(cfg.Badger.Path)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return store, nil
}

// ProvideBarStore creates the two-tier candle repository.
func ProvideBarStore(c cache.Service, durable blobstore.Store, cfg *config.Config, log *logger.Logger, m repository.Metrics) *internalrepo.BarStore {
	return internalrepo.NewBarStore(c, durable, cfg.Sync.CacheTTL, log, m)
}

// ProvideGuard creates the shared ban guard holding the exchange client.
func ProvideGuard(deps *Deps, c cache.Service, cfg *config.Config, log *logger.Logger, m repository.Metrics) *banguard.Guard {
	return banguard.New(c, nil, deps.Factory, deps.Exchange, log, m, cfg.Exchange.RecyclePause)
}

// ProvidePublisher creates the Kafka event publisher, or a no-op one when
// Kafka is disabled.
func ProvidePublisher(cfg *config.Config, log *logger.Logger) (repository.EventPublisher, error) {
	if !cfg.Kafka.Enabled {
		return internalrepo.NopPublisher{}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	log.Info("kafka publisher enabled", logger.Strings("brokers", cfg.Kafka.Brokers))
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.TickersTopic, cfg.Kafka.OrdersTopic), nil
}

// ProvideHub creates the websocket fan-out hub.
func ProvideHub(log *logger.Logger) *ws.Hub {
	return ws.NewHub(log)
}

// ProvideHistorical creates the historical sync service.
func ProvideHistorical(guard *banguard.Guard, store *internalrepo.BarStore, c cache.Service, cfg *config.Config, log *logger.Logger, m repository.Metrics) *usecase.HistoricalSync {
	return usecase.NewHistoricalSync(guard, store, c, usecase.HistoricalConfig{
		OverallTimeout:    cfg.Sync.OverallTimeout,
		FetchTimeout:      cfg.Sync.FetchTimeout,
		CoverageThreshold: cfg.Sync.CoverageThreshold,
		MaxConcurrent:     cfg.Sync.MaxConcurrent,
		RetryAttempts:     cfg.Sync.RetryAttempts,
		RetryBackoff:      cfg.Sync.RetryBackoff,
		RetryBackoffCap:   cfg.Sync.RetryBackoffCap,
	}, log, m)
}

// ProvideTickers creates the live ticker aggregator.
func ProvideTickers(guard *banguard.Guard, deps *Deps, c cache.Service, hub *ws.Hub, pub repository.EventPublisher, cfg *config.Config, log *logger.Logger, m repository.Metrics) *usecase.TickerAggregator {
	return usecase.NewTickerAggregator(guard, deps.Registry, c, hub, pub, usecase.TickerConfig{
		FlushInterval:   cfg.Tickers.FlushInterval,
		PollInterval:    cfg.Tickers.PollInterval,
		ErrorBackoff:    cfg.Tickers.ErrorBackoff,
		BanSleepSegment: cfg.Exchange.BanSleepSegment,
		CacheTTL:        cfg.Sync.CacheTTL,
	}, log, m)
}

// ProvideOrders creates the order reconciliation tracker.
func ProvideOrders(guard *banguard.Guard, deps *Deps, hub *ws.Hub, pub repository.EventPublisher, cfg *config.Config, log *logger.Logger, m repository.Metrics) *usecase.OrderTracker {
	return usecase.NewOrderTracker(guard, deps.Registry, deps.Orders, deps.Wallet, hub, pub, usecase.OrderConfig{
		PassInterval:    cfg.Orders.PassInterval,
		FlushInterval:   cfg.Orders.FlushInterval,
		FetchTimeout:    cfg.Sync.FetchTimeout,
		RetryAttempts:   cfg.Sync.RetryAttempts,
		RetryBackoff:    cfg.Sync.RetryBackoff,
		RetryBackoffCap: cfg.Sync.RetryBackoffCap,
		BanSleepSegment: cfg.Exchange.BanSleepSegment,
	}, log, m)
}

// ProvideRouter builds the HTTP surface.
func ProvideRouter(log *logger.Logger, hist *usecase.HistoricalSync, hub *ws.Hub, tickers *usecase.TickerAggregator, orders *usecase.OrderTracker) *api.Router {
	market := api.NewMarketHandler(log, hist)
	stream := api.NewStreamHandler(log, hub, tickers, orders)
	return api.NewRouter(market, stream)
}

// ProvideHTTPServer creates the Echo server with the router mounted.
func ProvideHTTPServer(cfg *config.Config, router *api.Router) *xhttp.Server {
	return xhttp.NewServer(router,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	httpServer *xhttp.Server,
	tickers *usecase.TickerAggregator,
	orders *usecase.OrderTracker,
	pub repository.EventPublisher,
	c cache.Service,
	durable blobstore.Store,
	guard *banguard.Guard,
) *server.App {
	return server.New(cfg, log, httpServer, tickers, orders, pub, c, durable, guard)
}

// MarketsFromConfig converts configured markets into domain records.
func MarketsFromConfig(cfg *config.Config) []models.Market {
	out := make([]models.Market, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		out = append(out, models.Market{
			Symbol:    m.Symbol,
			Base:      m.Base,
			Quote:     m.Quote,
			Active:    true,
			MakerFee:  m.MakerFee,
			TakerFee:  m.TakerFee,
			Precision: m.Precision,
			MinAmount: m.MinAmount,
		})
	}
	return out
}
