// Package banguard coordinates the process-wide rate-limit ban window. The
// guard is the single writer; every worker reads the window before touching
// the upstream exchange.
package banguard

import (
	"context"
	"regexp"
	"strconv"
	"sync"
	"time"

	"marketsync/internal/domain/repository"
	"marketsync/pkg/cache"
	"marketsync/pkg/logger"
)

const banKey = "exchange:ban_until"

// Classifier parses an upstream error for an embedded ban deadline,
// returning (epochMs, true) on a match. Error text is provider-specific, so
// the classifier is pluggable.
type Classifier func(err error) (int64, bool)

var bannedUntilRe = regexp.MustCompile(`(?i)banned\s+until\s+(\d{13})`)

// DefaultClassifier matches the common "banned until <epoch ms>" marker.
func DefaultClassifier(err error) (int64, bool) {
	if err == nil {
		return 0, false
	}
	m := bannedUntilRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	until, perr := strconv.ParseInt(m[1], 10, 64)
	if perr != nil {
		return 0, false
	}
	return until, true
}

// Guard owns the shared ban window and the live exchange client.
type Guard struct {
	cache    cache.Service
	classify Classifier
	factory  repository.ExchangeFactory
	log      *logger.Logger
	metrics  repository.Metrics
	pause    time.Duration
	now      func() int64

	mu     sync.RWMutex
	client repository.ExchangeClient
}

// New creates a Guard holding the initial exchange client.
func New(
	c cache.Service,
	classify Classifier,
	factory repository.ExchangeFactory,
	client repository.ExchangeClient,
	log *logger.Logger,
	metrics repository.Metrics,
	recyclePause time.Duration,
) *Guard {
	if classify == nil {
		classify = DefaultClassifier
	}
	return &Guard{
		cache:    c,
		classify: classify,
		factory:  factory,
		client:   client,
		log:      log,
		metrics:  metrics,
		pause:    recyclePause,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Client returns the current exchange client.
func (g *Guard) Client() repository.ExchangeClient {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.client
}

// UnblockTime returns the persisted ban deadline in epoch ms, 0 when none.
// Cache failures read as "not banned": the durable degradation path is
// per-call error handling, not a stuck embargo.
func (g *Guard) UnblockTime(ctx context.Context) int64 {
	var raw string
	if err := g.cache.Get(ctx, banKey, &raw); err != nil {
		return 0
	}
	until, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return until
}

// IsBanned reports whether the ban window is still in effect.
func (g *Guard) IsBanned(unblockTime int64) bool {
	return unblockTime > 0 && g.now() < unblockTime
}

// ClassifyError runs the pluggable classifier.
func (g *Guard) ClassifyError(err error) (int64, bool) {
	return g.classify(err)
}

// SetBan persists the ban window so every worker observes it immediately.
func (g *Guard) SetBan(ctx context.Context, untilMs int64) {
	ttl := time.Duration(untilMs-g.now())*time.Millisecond + time.Minute
	if ttl <= 0 {
		return
	}
	if err := g.cache.Set(ctx, banKey, strconv.FormatInt(untilMs, 10), ttl); err != nil {
		g.log.Error("persist ban window", logger.Error(err))
	}
	g.metrics.RecordBan(untilMs)
	g.log.Warn("rate-limit ban active", logger.Int64("until_ms", untilMs))
}

// RecoverFromError handles an upstream failure: a classifiable ban is
// persisted for all workers; anything else tears down the exchange client
// and recycles the connection after a short pause. Never returns an error.
func (g *Guard) RecoverFromError(ctx context.Context, err error) repository.ExchangeClient {
	if until, ok := g.classify(err); ok {
		g.SetBan(ctx, until)
		return g.Client()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.factory == nil {
		return g.client
	}

	g.log.Warn("recycling exchange client", logger.Error(err))
	g.metrics.RecordError("exchange_recycle")

	if g.client != nil {
		_ = g.client.Close()
	}
	select {
	case <-ctx.Done():
		return g.client
	case <-time.After(g.pause):
	}
	fresh, ferr := g.factory()
	if ferr != nil {
		g.log.Error("exchange client rebuild failed", logger.Error(ferr))
		return g.client
	}
	g.client = fresh
	return g.client
}

// SleepWhileBanned blocks in interruptible segments of at most segment until
// the ban window passes or ctx is done.
func (g *Guard) SleepWhileBanned(ctx context.Context, segment time.Duration) {
	for {
		until := g.UnblockTime(ctx)
		if !g.IsBanned(until) {
			return
		}
		remaining := time.Duration(until-g.now()) * time.Millisecond
		if remaining > segment {
			remaining = segment
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
		}
	}
}

// SetNowFunc overrides the clock, for tests.
func (g *Guard) SetNowFunc(now func() int64) { g.now = now }
