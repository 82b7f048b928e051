// Package query serves read-only views of prices and the ledger.
package query

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/observability"
	"crypto-ledger/internal/storage"
)

// NoDataAverage is reported as the average when no prices are stored.
const NoDataAverage = "0.00"

// PriceCache is a read-through copy of the price list.
type PriceCache interface {
	Get(ctx context.Context) ([]*domain.PriceRecord, bool, error)
	Fill(ctx context.Context, records []*domain.PriceRecord) (bool, error)
}

// PriceSummary is every stored price with the mean of their last prices.
type PriceSummary struct {
	Cryptos      []*domain.PriceRecord
	AveragePrice string // two decimal places
	HasData      bool
}

// Service answers read-only queries.
type Service struct {
	prices storage.PriceStore
	ledger storage.LedgerStore
	cache  PriceCache
	logger *zap.Logger
}

// Options contains configuration for creating a Service.
type Options struct {
	Prices storage.PriceStore
	Ledger storage.LedgerStore
	Cache  PriceCache // optional
	Logger *zap.Logger
}

// NewService creates a new query service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		prices: opts.Prices,
		ledger: opts.Ledger,
		cache:  opts.Cache,
		logger: logger.Named("query"),
	}
}

// Prices returns all stored price records ordered by name and their average
// last price. Cache failures fall back to the store.
func (s *Service) Prices(ctx context.Context) (*PriceSummary, error) {
	records, err := s.loadPrices(ctx)
	if err != nil {
		return nil, err
	}

	avg, ok := AverageLast(records)
	return &PriceSummary{
		Cryptos:      records,
		AveragePrice: avg,
		HasData:      ok,
	}, nil
}

func (s *Service) loadPrices(ctx context.Context) ([]*domain.PriceRecord, error) {
	if s.cache != nil {
		records, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			observability.RecordCacheLookup("error")
			s.logger.Warn("price cache read failed", zap.Error(err))
		case ok:
			observability.RecordCacheLookup("hit")
			return records, nil
		default:
			observability.RecordCacheLookup("miss")
		}
	}

	records, err := s.prices.GetAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load prices")
	}

	// Only a cold key is filled: the poller owns refreshes.
	if s.cache != nil {
		if _, err := s.cache.Fill(ctx, records); err != nil {
			s.logger.Warn("price cache fill failed", zap.Error(err))
		}
	}

	return records, nil
}

// History returns all transactions, newest first, and all holdings by name.
func (s *Service) History(ctx context.Context) (*domain.LedgerHistory, error) {
	history, err := s.ledger.History(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load history")
	}
	return history, nil
}

// AverageLast returns the mean of the records' last prices with two
// decimals. It returns NoDataAverage and false for an empty slice.
func AverageLast(records []*domain.PriceRecord) (string, bool) {
	if len(records) == 0 {
		return NoDataAverage, false
	}

	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Last)
	}

	return sum.Div(decimal.NewFromInt(int64(len(records)))).StringFixed(2), true
}
