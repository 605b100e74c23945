package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketsync/internal/domain/models"
	"marketsync/pkg/blobstore"
	"marketsync/pkg/cache"
	"marketsync/pkg/logger"
)

// BarStore is the two-tier historical bar cache. The fast tier (redis-backed
// cache.Service) shortcuts repeat reads; the durable tier (blobstore) is
// authoritative and holds one compressed serialized bar array per
// (symbol, interval) key. All access for one key serializes behind a keyed
// mutex, so a read started after a write began observes that write.
type BarStore struct {
	fast    cache.Service
	durable blobstore.Store
	locks   *keyMutex
	ttl     time.Duration
	log     *logger.Logger
	metrics Metrics
}

// Metrics is the subset of the domain metrics recorder the store needs.
type Metrics interface {
	RecordCacheHit(tier string)
	RecordCacheMiss(tier string)
	RecordError(kind string)
}

// NewBarStore creates the bar cache over a fast and a durable tier.
func NewBarStore(fast cache.Service, durable blobstore.Store, ttl time.Duration, log *logger.Logger, metrics Metrics) *BarStore {
	return &BarStore{
		fast:    fast,
		durable: durable,
		locks:   newKeyMutex(),
		ttl:     ttl,
		log:     log,
		metrics: metrics,
	}
}

func seriesKey(symbol, interval string) string {
	return fmt.Sprintf("bars:%s:%s", symbol, interval)
}

// Read returns the cached bars for [from, to], both bounds in epoch ms.
func (s *BarStore) Read(ctx context.Context, symbol, interval string, from, to int64) ([]models.Bar, error) {
	key := seriesKey(symbol, interval)
	unlock := s.locks.Lock(key)
	defer unlock()

	series, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return sliceRange(series, from, to), nil
}

// Write merge-upserts newBars into the cached series and persists both
// tiers. Rows already cached win ties on timestamp, so a re-fetch never
// rewrites settled history. Tier write failures are logged, not fatal.
func (s *BarStore) Write(ctx context.Context, symbol, interval string, newBars []models.Bar) error {
	if len(newBars) == 0 {
		return nil
	}
	key := seriesKey(symbol, interval)
	unlock := s.locks.Lock(key)
	defer unlock()

	existing, err := s.load(ctx, key)
	if err != nil {
		s.log.Warn("bar store load before write", logger.String("key", key), logger.Error(err))
		existing = nil
	}
	merged := mergeBars(existing, newBars)

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal series %s: %w", key, err)
	}
	if err := s.durable.Set(ctx, key, data); err != nil {
		s.metrics.RecordError("blobstore_write")
		s.log.Error("durable bar write", logger.String("key", key), logger.Error(err))
	}
	if err := s.fast.Set(ctx, key, data, s.ttl); err != nil {
		s.metrics.RecordError("cache_write")
		s.log.Warn("fast bar write", logger.String("key", key), logger.Error(err))
	}
	return nil
}

// load reads the full series for key: fast tier first, durable on miss with
// fast-tier repopulation. Fast-tier failures are swallowed; the durable
// store is authoritative.
func (s *BarStore) load(ctx context.Context, key string) ([]models.Bar, error) {
	var raw []byte
	if err := s.fast.Get(ctx, key, &raw); err == nil {
		var series []models.Bar
		if uerr := json.Unmarshal(raw, &series); uerr == nil {
			s.metrics.RecordCacheHit("fast")
			return series, nil
		}
	}
	s.metrics.RecordCacheMiss("fast")

	data, err := s.durable.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil
		}
		s.metrics.RecordError("blobstore_read")
		return nil, fmt.Errorf("durable read %s: %w", key, err)
	}
	var series []models.Bar
	if err := json.Unmarshal(data, &series); err != nil {
		return nil, fmt.Errorf("decode series %s: %w", key, err)
	}
	if err := s.fast.Set(ctx, key, data, s.ttl); err != nil {
		s.log.Warn("fast tier repopulate", logger.String("key", key), logger.Error(err))
	}
	return series, nil
}

// mergeBars concatenates existing before incoming, sorts by timestamp, and
// drops duplicate timestamps keeping the first occurrence. Existing rows
// therefore win ties.
func mergeBars(existing, incoming []models.Bar) []models.Bar {
	merged := make([]models.Bar, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	merged = append(merged, incoming...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	out := merged[:0]
	var last int64 = -1
	for _, b := range merged {
		if len(out) > 0 && b.Timestamp == last {
			continue
		}
		out = append(out, b)
		last = b.Timestamp
	}
	return out
}

// sliceRange extracts bars with from <= ts <= to using two binary searches.
func sliceRange(series []models.Bar, from, to int64) []models.Bar {
	lo := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp >= from
	})
	hi := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp > to
	})
	if lo >= hi {
		return nil
	}
	out := make([]models.Bar, hi-lo)
	copy(out, series[lo:hi])
	return out
}
