package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/marketdata"
	"crypto-ledger/internal/storage/memory"
)

// stubSource returns a fixed snapshot or error.
type stubSource struct {
	mu      sync.Mutex
	tickers []domain.Ticker
	err     error
	calls   int
	block   chan struct{}
}

func (s *stubSource) FetchTickers(ctx context.Context) ([]domain.Ticker, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickers, s.err
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingCache keeps the last list written through it.
type recordingCache struct {
	mu            sync.Mutex
	records       []*domain.PriceRecord
	sets          int
	invalidations int
	setErr        error
}

func (c *recordingCache) Set(_ context.Context, records []*domain.PriceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.records = records
	c.sets++
	return nil
}

func (c *recordingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
	c.invalidations++
	return nil
}

func (c *recordingCache) counts() (sets, invalidations int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets, c.invalidations
}

func ticker(name string, volume int64) domain.Ticker {
	return domain.Ticker{
		Key:      name,
		Name:     name,
		BaseUnit: name,
		Last:     decimal.NewFromInt(100),
		Buy:      decimal.NewFromInt(101),
		Sell:     decimal.NewFromInt(99),
		Volume:   decimal.NewFromInt(volume),
	}
}

func TestPoller_PollOnce_StoresTopTen(t *testing.T) {
	var tickers []domain.Ticker
	for i := 1; i <= 15; i++ {
		tickers = append(tickers, ticker(fmt.Sprintf("C%02d", i), int64(i*10)))
	}

	store := memory.NewStore()
	cache := &recordingCache{}
	poller := NewPoller(PollerOptions{
		Source: &stubSource{tickers: tickers},
		Store:  store,
		Cache:  cache,
	})

	result, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, result.Fetched)
	assert.Equal(t, 10, result.Stored)
	assert.Equal(t, int64(0), result.Pruned)

	all, err := store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 10)

	// The committed list is written through.
	sets, invalidations := cache.counts()
	assert.Equal(t, 1, sets)
	assert.Equal(t, 0, invalidations)
	assert.Equal(t, all, cache.records)

	// Volumes 60..150 survive, 10..50 are dropped.
	for _, rec := range all {
		assert.True(t, rec.Volume.GreaterThanOrEqual(decimal.NewFromInt(60)), "unexpected %s", rec.Name)
	}
}

func TestPoller_PollOnce_Idempotent(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store := memory.NewStore(memory.WithClock(func() time.Time { return clock }))
	src := &stubSource{tickers: []domain.Ticker{ticker("BTC", 10), ticker("ETH", 5)}}
	poller := NewPoller(PollerOptions{Source: src, Store: store})

	r1, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	first, err := store.GetAll(context.Background())
	require.NoError(t, err)

	clock = base.Add(time.Minute)
	r2, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	second, err := store.GetAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, r1.Snapshot, 64)
	assert.Equal(t, r1.Snapshot, r2.Snapshot)
	assert.Equal(t, 2, src.Calls())
}

func TestPoller_PollOnce_CacheWriteFailureInvalidates(t *testing.T) {
	store := memory.NewStore()
	cache := &recordingCache{
		records: []*domain.PriceRecord{{Name: "OLD"}},
		setErr:  errors.New("redis down"),
	}
	poller := NewPoller(PollerOptions{
		Source: &stubSource{tickers: []domain.Ticker{ticker("BTC", 10)}},
		Store:  store,
		Cache:  cache,
	})

	_, err := poller.PollOnce(context.Background())
	require.NoError(t, err)

	sets, invalidations := cache.counts()
	assert.Equal(t, 0, sets)
	assert.Equal(t, 1, invalidations)
	assert.Nil(t, cache.records)
}

func TestPoller_PollOnce_FetchFailureLeavesStoreUntouched(t *testing.T) {
	store := memory.NewStore()
	src := &stubSource{tickers: []domain.Ticker{ticker("BTC", 10)}}
	cache := &recordingCache{}
	poller := NewPoller(PollerOptions{Source: src, Store: store, Cache: cache})

	_, err := poller.PollOnce(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.tickers = []domain.Ticker{ticker("BTC", 99)}
	src.err = &marketdata.FetchError{Stage: marketdata.StageStatus, StatusCode: 502}
	src.mu.Unlock()

	_, err = poller.PollOnce(context.Background())
	require.Error(t, err)

	var fetchErr *marketdata.FetchError
	assert.True(t, errors.As(err, &fetchErr))

	rec, err := store.GetByName(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, rec.Volume.Equal(decimal.NewFromInt(10)))
	sets, _ := cache.counts()
	assert.Equal(t, 1, sets)

	status := poller.Status()
	assert.Equal(t, int64(2), status.Runs)
	assert.Equal(t, int64(1), status.Failures)
	assert.NotEmpty(t, status.LastError)
	assert.False(t, status.Running)
}

func TestPoller_PollOnce_PruneStale(t *testing.T) {
	store := memory.NewStore()
	src := &stubSource{tickers: []domain.Ticker{ticker("A", 3), ticker("B", 2), ticker("C", 1)}}
	poller := NewPoller(PollerOptions{Source: src, Store: store, TopN: 2, PrunePolicy: domain.PruneStale})

	_, err := poller.PollOnce(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.tickers = []domain.Ticker{ticker("C", 9), ticker("A", 3), ticker("B", 2)}
	src.mu.Unlock()

	result, err := poller.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Pruned)

	all, err := store.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].Name)
	assert.Equal(t, "C", all[1].Name)
}

func TestPoller_PollOnce_KeepsStaleByDefault(t *testing.T) {
	store := memory.NewStore()
	src := &stubSource{tickers: []domain.Ticker{ticker("A", 3), ticker("B", 2)}}
	poller := NewPoller(PollerOptions{Source: src, Store: store, TopN: 1})

	_, err := poller.PollOnce(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.tickers = []domain.Ticker{ticker("A", 1), ticker("B", 2)}
	src.mu.Unlock()

	_, err = poller.PollOnce(context.Background())
	require.NoError(t, err)

	all, err := store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPoller_PollOnce_InProgress(t *testing.T) {
	src := &stubSource{tickers: []domain.Ticker{ticker("A", 1)}, block: make(chan struct{})}
	poller := NewPoller(PollerOptions{Source: src, Store: memory.NewStore()})

	done := make(chan error, 1)
	go func() {
		_, err := poller.PollOnce(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return poller.Status().Running }, time.Second, 5*time.Millisecond)

	_, err := poller.PollOnce(context.Background())
	assert.ErrorIs(t, err, ErrPollInProgress)

	close(src.block)
	require.NoError(t, <-done)
	assert.Equal(t, int64(1), poller.Status().Runs)
}

func TestPoller_PollOnce_Timeout(t *testing.T) {
	src := &stubSource{tickers: []domain.Ticker{ticker("A", 1)}, block: make(chan struct{})}
	defer close(src.block)

	store := memory.NewStore()
	poller := NewPoller(PollerOptions{Source: src, Store: store, Timeout: 20 * time.Millisecond})

	_, err := poller.PollOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	all, err := store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPoller_Run_PollsImmediatelyAndOnInterval(t *testing.T) {
	src := &stubSource{tickers: []domain.Ticker{ticker("A", 1)}}
	poller := NewPoller(PollerOptions{Source: src, Store: memory.NewStore(), Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	require.Eventually(t, func() bool { return src.Calls() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPoller_Run_SurvivesFailures(t *testing.T) {
	src := &stubSource{err: errors.New("boom")}
	poller := NewPoller(PollerOptions{Source: src, Store: memory.NewStore(), Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	require.Eventually(t, func() bool { return poller.Status().Failures >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
