package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	upstreamCalls *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	bansTotal     prometheus.Counter
	banUntil      prometheus.Gauge
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	gapFetches    *prometheus.CounterVec
	broadcastSize *prometheus.HistogramVec
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		upstreamCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_upstream_calls_total",
				Help: "Total number of exchange client calls",
			},
			[]string{"op"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		bansTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "marketsync_rate_limit_bans_total",
				Help: "Total number of rate-limit bans observed",
			},
		),
		banUntil: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketsync_ban_until_epoch_ms",
				Help: "Current ban window end, 0 when none",
			},
		),
		cacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_cache_hits_total",
				Help: "Cache hits by tier",
			},
			[]string{"tier"},
		),
		cacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_cache_misses_total",
				Help: "Cache misses by tier",
			},
			[]string{"tier"},
		),
		gapFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketsync_gap_fetches_total",
				Help: "Historical gap backfill fetches",
			},
			[]string{"symbol"},
		),
		broadcastSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketsync_broadcast_batch_size",
				Help:    "Entries per broadcast flush",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"route"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketsync_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordUpstreamCall(op string) {
	r.upstreamCalls.WithLabelValues(op).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordBan(untilMs int64) {
	if untilMs > 0 {
		r.bansTotal.Inc()
	}
	r.banUntil.Set(float64(untilMs))
}

func (r *Recorder) RecordCacheHit(tier string) {
	r.cacheHits.WithLabelValues(tier).Inc()
}

func (r *Recorder) RecordCacheMiss(tier string) {
	r.cacheMisses.WithLabelValues(tier).Inc()
}

func (r *Recorder) RecordGapFetch(symbol string) {
	r.gapFetches.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordBroadcast(route string, size int) {
	r.broadcastSize.WithLabelValues(route).Observe(float64(size))
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
