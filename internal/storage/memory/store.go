package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/storage"
)

// Store is an in-memory implementation of storage.PriceStore and
// storage.LedgerStore. Prices and the ledger share one lock so that ledger
// transactions observe a stable price snapshot.
type Store struct {
	mu           sync.RWMutex
	prices       map[string]*domain.PriceRecord // keyed by name
	holdings     map[string]decimal.Decimal     // keyed by crypto_name
	transactions []*domain.Transaction          // append order
	nextID       int64
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a new empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		prices:   make(map[string]*domain.PriceRecord),
		holdings: make(map[string]decimal.Decimal),
		nextID:   1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time interface checks.
var (
	_ storage.PriceStore  = (*Store)(nil)
	_ storage.LedgerStore = (*Store)(nil)
	_ storage.LedgerTx    = (*memTx)(nil)
)

// UpsertBatch writes all records atomically. Fails entire batch on invalid input.
func (s *Store) UpsertBatch(_ context.Context, records []*domain.PriceRecord, policy domain.PrunePolicy) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	// First pass: validate
	keep := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.Name == "" {
			return 0, storage.ErrInvalidInput
		}
		keep[r.Name] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Second pass: write
	for _, r := range records {
		if existing, ok := s.prices[r.Name]; ok && existing.SameQuote(r) {
			continue
		}
		copy := *r
		copy.UpdatedAt = now
		s.prices[r.Name] = &copy
	}

	var pruned int64
	if policy == domain.PruneStale {
		for name := range s.prices {
			if _, ok := keep[name]; !ok {
				delete(s.prices, name)
				pruned++
			}
		}
	}

	return pruned, nil
}

// GetByName retrieves the record for an instrument. Returns ErrNotFound if absent.
func (s *Store) GetByName(_ context.Context, name string) (*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// GetAll retrieves all stored records ordered by name ASC.
func (s *Store) GetAll(_ context.Context) ([]*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.PriceRecord, 0, len(s.prices))
	for _, p := range s.prices {
		copy := *p
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result, nil
}

// InTx runs fn against a staged copy of the ledger under the write lock.
// The staged state replaces the live state only if fn returns nil.
func (s *Store) InTx(_ context.Context, fn func(tx storage.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:    s,
		holdings: maps.Clone(s.holdings),
		nextID:   s.nextID,
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.holdings = tx.holdings
	s.transactions = append(s.transactions, tx.appended...)
	s.nextID = tx.nextID
	return nil
}

// ListTransactions retrieves all transactions ordered by transaction_time DESC, id DESC.
func (s *Store) ListTransactions(_ context.Context) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listTransactionsLocked(), nil
}

// ListHoldings retrieves all holdings ordered by crypto_name ASC.
func (s *Store) ListHoldings(_ context.Context) ([]*domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listHoldingsLocked(), nil
}

// History retrieves transactions and holdings under one read lock.
func (s *Store) History(_ context.Context) (*domain.LedgerHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &domain.LedgerHistory{
		Transactions: s.listTransactionsLocked(),
		Holdings:     s.listHoldingsLocked(),
	}, nil
}

func (s *Store) listTransactionsLocked() []*domain.Transaction {
	result := make([]*domain.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		copy := *t
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].TransactionTime.Equal(result[j].TransactionTime) {
			return result[i].TransactionTime.After(result[j].TransactionTime)
		}
		return result[i].ID > result[j].ID
	})

	return result
}

func (s *Store) listHoldingsLocked() []*domain.Holding {
	result := make([]*domain.Holding, 0, len(s.holdings))
	for name, amount := range s.holdings {
		result = append(result, &domain.Holding{CryptoName: name, Amount: amount})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CryptoName < result[j].CryptoName
	})

	return result
}

// memTx stages ledger writes until InTx commits them.
// The store's write lock is held for its whole lifetime.
type memTx struct {
	store    *Store
	holdings map[string]decimal.Decimal
	appended []*domain.Transaction
	nextID   int64
}

func (t *memTx) PriceByName(_ context.Context, name string) (*domain.PriceRecord, error) {
	p, ok := t.store.prices[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (t *memTx) AddHolding(_ context.Context, name string, amount decimal.Decimal) (decimal.Decimal, error) {
	if name == "" || !amount.IsPositive() {
		return decimal.Zero, storage.ErrInvalidInput
	}
	updated := t.holdings[name].Add(amount)
	if updated.GreaterThanOrEqual(domain.NumericLimit) {
		return decimal.Zero, storage.ErrOutOfRange
	}
	t.holdings[name] = updated
	return updated, nil
}

func (t *memTx) SubtractHolding(_ context.Context, name string, amount decimal.Decimal) (decimal.Decimal, error) {
	current, ok := t.holdings[name]
	if !ok || current.LessThan(amount) {
		return decimal.Zero, storage.ErrInsufficientHoldings
	}
	updated := current.Sub(amount)
	t.holdings[name] = updated
	return updated, nil
}

func (t *memTx) AppendTransaction(_ context.Context, tr *domain.Transaction) error {
	if tr == nil || tr.CryptoName == "" || !tr.TransactionType.Valid() || !tr.Amount.IsPositive() {
		return storage.ErrInvalidInput
	}
	if tr.Amount.GreaterThanOrEqual(domain.NumericLimit) || tr.Price.Abs().GreaterThanOrEqual(domain.NumericLimit) {
		return storage.ErrOutOfRange
	}

	tr.ID = t.nextID
	tr.TransactionTime = t.store.now()
	t.nextID++

	copy := *tr
	t.appended = append(t.appended, &copy)
	return nil
}
