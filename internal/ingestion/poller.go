// Package ingestion keeps the price store in sync with the market-data provider.
package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/idhash"
	"crypto-ledger/internal/marketdata"
	"crypto-ledger/internal/observability"
	"crypto-ledger/internal/storage"
)

// Default poller settings.
const (
	DefaultTopN     = 10
	DefaultInterval = 60 * time.Second
	DefaultTimeout  = 30 * time.Second
)

// ErrPollInProgress is returned by PollOnce when another cycle is still running.
var ErrPollInProgress = errors.New("poll already in progress")

// TickerSource provides the full market snapshot.
type TickerSource interface {
	FetchTickers(ctx context.Context) ([]domain.Ticker, error)
}

// PriceCache receives the committed price list after each write.
type PriceCache interface {
	Set(ctx context.Context, records []*domain.PriceRecord) error
	Invalidate(ctx context.Context) error
}

// PollResult describes one committed poll cycle.
type PollResult struct {
	Fetched  int           `json:"fetched"`
	Stored   int           `json:"stored"`
	Pruned   int64         `json:"pruned"`
	Snapshot string        `json:"snapshot,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Poller fetches the market snapshot on a fixed interval and upserts the top
// instruments by volume into the price store.
type Poller struct {
	source   TickerSource
	store    storage.PriceStore
	cache    PriceCache
	topN     int
	interval time.Duration
	timeout  time.Duration
	prune    domain.PrunePolicy
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	status Status
	wg     sync.WaitGroup
}

// PollerOptions contains configuration for creating a Poller.
type PollerOptions struct {
	Source      TickerSource
	Store       storage.PriceStore
	Cache       PriceCache // optional
	TopN        int              // Default: 10
	Interval    time.Duration    // Default: 60s
	Timeout     time.Duration    // Default: 30s, deadline for one cycle
	PrunePolicy domain.PrunePolicy
	Logger      *zap.Logger
	Clock       func() time.Time
}

// NewPoller creates a new poller.
func NewPoller(opts PollerOptions) *Poller {
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Poller{
		source:   opts.Source,
		store:    opts.Store,
		cache:    opts.Cache,
		topN:     topN,
		interval: interval,
		timeout:  timeout,
		prune:    opts.PrunePolicy,
		logger:   logger.Named("poller"),
		now:      now,
	}
}

// Run polls immediately and then on every interval until ctx is cancelled.
// Cycle failures are logged and never stop the loop. A tick that arrives
// while the previous cycle is still running is skipped.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		zap.Duration("interval", p.interval),
		zap.Int("top_n", p.topN),
		zap.Stringer("prune", p.prune))

	p.spawn(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.spawn(ctx)
		}
	}
}

func (p *Poller) spawn(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.PollOnce(ctx); err != nil {
			if errors.Is(err, ErrPollInProgress) {
				p.logger.Warn("previous poll still running, skipping tick")
				return
			}
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("poll failed", zap.Error(err))
		}
	}()
}

// PollOnce runs a single fetch, rank and upsert cycle.
// A fetch failure returns before the store is touched. The upsert is all or
// nothing.
func (p *Poller) PollOnce(ctx context.Context) (*PollResult, error) {
	if !p.begin() {
		return nil, ErrPollInProgress
	}

	start := p.now()
	result, err := p.poll(ctx)
	elapsed := p.now().Sub(start)
	p.finish(start, result, err)

	if err != nil {
		observability.RecordPollRun("error", elapsed.Seconds())
		return nil, err
	}

	result.Duration = elapsed
	observability.RecordPollRun("success", elapsed.Seconds())
	observability.RecordPollSuccess(result.Fetched, result.Stored, result.Pruned, float64(p.now().Unix()))

	p.logger.Info("poll completed",
		zap.Int("fetched", result.Fetched),
		zap.Int("stored", result.Stored),
		zap.Int64("pruned", result.Pruned),
		zap.String("snapshot", result.Snapshot),
		zap.Duration("duration", elapsed))

	return result, nil
}

func (p *Poller) poll(ctx context.Context) (*PollResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tickers, err := p.source.FetchTickers(ctx)
	if err != nil {
		var fetchErr *marketdata.FetchError
		if errors.As(err, &fetchErr) {
			observability.RecordUpstreamError(fetchErr.Stage)
		} else {
			observability.RecordUpstreamError("unknown")
		}
		return nil, errors.Wrap(err, "fetch tickers")
	}

	top := TopByVolume(tickers, p.topN)
	result := &PollResult{Fetched: len(tickers), Stored: len(top)}

	if len(top) == 0 {
		p.logger.Warn("snapshot is empty, nothing to store")
		return result, nil
	}

	result.Snapshot = idhash.ComputeSnapshotID(top)
	if prev := p.Status().LastResult; prev != nil && prev.Snapshot == result.Snapshot {
		p.logger.Debug("snapshot unchanged since last poll", zap.String("snapshot", result.Snapshot))
	}

	pruned, err := p.store.UpsertBatch(ctx, top, p.prune)
	if err != nil {
		return nil, errors.Wrap(err, "upsert prices")
	}
	result.Pruned = pruned

	if p.cache != nil {
		p.refreshCache(ctx)
	}

	return result, nil
}

// refreshCache writes the committed price list through to the cache. If that
// fails the entry is dropped so readers fall back to the store.
func (p *Poller) refreshCache(ctx context.Context) {
	records, err := p.store.GetAll(ctx)
	if err == nil {
		err = p.cache.Set(ctx, records)
	}
	if err == nil {
		return
	}

	p.logger.Warn("price cache refresh failed", zap.Error(err))
	if err := p.cache.Invalidate(ctx); err != nil {
		p.logger.Warn("price cache invalidation failed", zap.Error(err))
	}
}
