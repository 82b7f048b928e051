package query

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/ingestion"
	"crypto-ledger/internal/storage"
	"crypto-ledger/internal/storage/memory"
)

func record(name, last string) *domain.PriceRecord {
	v := decimal.RequireFromString(last)
	return &domain.PriceRecord{Name: name, Last: v, Buy: v, Sell: v, Volume: decimal.NewFromInt(1), BaseUnit: name}
}

func TestAverageLast(t *testing.T) {
	tests := []struct {
		name    string
		lasts   []string
		want    string
		hasData bool
	}{
		{"empty", nil, "0.00", false},
		{"three", []string{"100", "200", "300"}, "200.00", true},
		{"single", []string{"1.005"}, "1.01", true},
		{"repeating", []string{"1", "1", "2"}, "1.33", true},
		{"fractional", []string{"0.1", "0.2"}, "0.15", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []*domain.PriceRecord
			for i, l := range tt.lasts {
				records = append(records, record(string(rune('A'+i)), l))
			}

			got, ok := AverageLast(records)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.hasData, ok)
		})
	}
}

func TestService_Prices(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, err := store.UpsertBatch(ctx, []*domain.PriceRecord{
		record("C", "300"), record("A", "100"), record("B", "200"),
	}, domain.PruneNone)
	require.NoError(t, err)

	svc := NewService(Options{Prices: store, Ledger: store})

	summary, err := svc.Prices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "200.00", summary.AveragePrice)
	assert.True(t, summary.HasData)
	require.Len(t, summary.Cryptos, 3)
	assert.Equal(t, "A", summary.Cryptos[0].Name)
}

func TestService_Prices_Empty(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(Options{Prices: store, Ledger: store})

	summary, err := svc.Prices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NoDataAverage, summary.AveragePrice)
	assert.False(t, summary.HasData)
	assert.Empty(t, summary.Cryptos)
}

// fakeCache is an in-process cache with the same Set/Fill semantics as Redis
// SET and SET NX.
type fakeCache struct {
	mu      sync.Mutex
	records []*domain.PriceRecord
	ok      bool
	getErr  error
	fills   int
}

func (c *fakeCache) Get(context.Context) ([]*domain.PriceRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records, c.ok, c.getErr
}

func (c *fakeCache) Fill(_ context.Context, records []*domain.PriceRecord) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ok {
		return false, nil
	}
	c.records, c.ok = records, true
	c.fills++
	return true, nil
}

func (c *fakeCache) Set(_ context.Context, records []*domain.PriceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records, c.ok = records, true
	return nil
}

func (c *fakeCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records, c.ok = nil, false
	return nil
}

func TestService_Prices_ReadThrough(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, err := store.UpsertBatch(ctx, []*domain.PriceRecord{record("A", "10")}, domain.PruneNone)
	require.NoError(t, err)

	cache := &fakeCache{}
	svc := NewService(Options{Prices: store, Ledger: store, Cache: cache})

	summary, err := svc.Prices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.00", summary.AveragePrice)
	assert.Equal(t, 1, cache.fills)

	// Served from cache: a store write that bypasses the poller is not visible.
	_, err = store.UpsertBatch(ctx, []*domain.PriceRecord{record("A", "20")}, domain.PruneNone)
	require.NoError(t, err)

	summary, err = svc.Prices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.00", summary.AveragePrice)
	assert.Equal(t, 1, cache.fills)
}

// fixedSource serves one ticker snapshot.
type fixedSource struct {
	mu      sync.Mutex
	tickers []domain.Ticker
}

func (s *fixedSource) FetchTickers(context.Context) ([]domain.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickers, nil
}

func (s *fixedSource) set(last string) {
	v := decimal.RequireFromString(last)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers = []domain.Ticker{{Key: "btcinr", Name: "BTC/INR", BaseUnit: "btc", Last: v, Buy: v, Sell: v, Volume: decimal.NewFromInt(1)}}
}

// hookPriceStore runs afterRead once, between a GetAll and its caller.
type hookPriceStore struct {
	storage.PriceStore
	afterRead func()
}

func (s *hookPriceStore) GetAll(ctx context.Context) ([]*domain.PriceRecord, error) {
	records, err := s.PriceStore.GetAll(ctx)
	if hook := s.afterRead; hook != nil {
		s.afterRead = nil
		hook()
	}
	return records, err
}

func TestService_Prices_PollBetweenReadAndFill(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	cache := &fakeCache{}
	src := &fixedSource{}
	poller := ingestion.NewPoller(ingestion.PollerOptions{Source: src, Store: store, Cache: cache})

	src.set("100")
	_, err := poller.PollOnce(ctx)
	require.NoError(t, err)

	// Cold key, e.g. after TTL expiry.
	require.NoError(t, cache.Invalidate(ctx))

	reader := &hookPriceStore{PriceStore: store}
	svc := NewService(Options{Prices: reader, Ledger: store, Cache: cache})

	// The poll commits after the read and before the fill.
	reader.afterRead = func() {
		src.set("200")
		_, err := poller.PollOnce(ctx)
		require.NoError(t, err)
	}

	summary, err := svc.Prices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100.00", summary.AveragePrice)
	assert.Equal(t, 0, cache.fills)

	summary, err = svc.Prices(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Cryptos, 1)
	assert.True(t, summary.Cryptos[0].Last.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, "200.00", summary.AveragePrice)
}

func TestService_Prices_CacheErrorFallsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, err := store.UpsertBatch(ctx, []*domain.PriceRecord{record("A", "10")}, domain.PruneNone)
	require.NoError(t, err)

	cache := &fakeCache{getErr: errors.New("redis down")}
	svc := NewService(Options{Prices: store, Ledger: store, Cache: cache})

	summary, err := svc.Prices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.00", summary.AveragePrice)
}

type brokenPriceStore struct {
	storage.PriceStore
}

func (brokenPriceStore) GetAll(context.Context) ([]*domain.PriceRecord, error) {
	return nil, errors.New("pool closed")
}

func TestService_Prices_StoreError(t *testing.T) {
	svc := NewService(Options{Prices: brokenPriceStore{}})

	_, err := svc.Prices(context.Background())
	assert.Error(t, err)
}

func TestService_History(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, err := store.UpsertBatch(ctx, []*domain.PriceRecord{record("A", "10")}, domain.PruneNone)
	require.NoError(t, err)

	err = store.InTx(ctx, func(tx storage.LedgerTx) error {
		if _, err := tx.AddHolding(ctx, "A", decimal.NewFromInt(2)); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, &domain.Transaction{
			CryptoName:      "A",
			TransactionType: domain.TransactionBuy,
			Amount:          decimal.NewFromInt(2),
			Price:           decimal.NewFromInt(20),
		})
	})
	require.NoError(t, err)

	svc := NewService(Options{Prices: store, Ledger: store})
	history, err := svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history.Transactions, 1)
	require.Len(t, history.Holdings, 1)
	assert.Equal(t, "A", history.Holdings[0].CryptoName)
}
