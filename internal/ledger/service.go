// Package ledger implements buy and sell against the stored quotes.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/events"
	"crypto-ledger/internal/observability"
	"crypto-ledger/internal/storage"
)

// Scale is the number of fractional digits kept for amounts and totals.
const Scale = domain.NumericScale

// maxIntegerDigits is the number of integer digits below domain.NumericLimit.
const maxIntegerDigits = 38 - Scale

const publishTimeout = 5 * time.Second

// Order is a request to buy or sell Amount units of CryptoName.
type Order struct {
	CryptoName string
	Amount     decimal.Decimal
}

// Fill is the committed result of an order.
type Fill struct {
	Transaction   *domain.Transaction
	UpdatedAmount decimal.Decimal // holding after the trade
	Total         decimal.Decimal // cost for buys, revenue for sells
}

// Service executes orders. Each order is one store transaction.
type Service struct {
	store     storage.LedgerStore
	publisher events.Publisher
	logger    *zap.Logger
}

// Options contains configuration for creating a Service.
type Options struct {
	Store     storage.LedgerStore
	Publisher events.Publisher // Default: events.NopPublisher
	Logger    *zap.Logger
}

// NewService creates a new ledger service.
func NewService(opts Options) *Service {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:     opts.Store,
		publisher: publisher,
		logger:    logger.Named("ledger"),
	}
}

// Buy records a purchase at the stored buy price and adds to the holding.
func (s *Service) Buy(ctx context.Context, order Order) (*Fill, error) {
	return s.execute(ctx, domain.TransactionBuy, order, s.buy)
}

// Sell records a sale at the stored sell price and decrements the holding.
// Nothing is written when the holding is absent or smaller than the amount.
func (s *Service) Sell(ctx context.Context, order Order) (*Fill, error) {
	return s.execute(ctx, domain.TransactionSell, order, s.sell)
}

func (s *Service) buy(ctx context.Context, tx storage.LedgerTx, order Order, fill *Fill) error {
	price, err := tx.PriceByName(ctx, order.CryptoName)
	if err != nil {
		return err
	}

	total := price.Buy.Mul(order.Amount).Round(Scale)
	if err := checkTotal(total); err != nil {
		return err
	}
	record := &domain.Transaction{
		CryptoName:      order.CryptoName,
		TransactionType: domain.TransactionBuy,
		Amount:          order.Amount,
		Price:           total,
	}
	if err := tx.AppendTransaction(ctx, record); err != nil {
		return errors.Wrap(err, "append transaction")
	}

	updated, err := tx.AddHolding(ctx, order.CryptoName, order.Amount)
	if err != nil {
		return errors.Wrap(err, "add holding")
	}

	fill.Transaction = record
	fill.UpdatedAmount = updated
	fill.Total = total
	return nil
}

func (s *Service) sell(ctx context.Context, tx storage.LedgerTx, order Order, fill *Fill) error {
	price, err := tx.PriceByName(ctx, order.CryptoName)
	if err != nil {
		return err
	}

	total := price.Sell.Mul(order.Amount).Round(Scale)
	if err := checkTotal(total); err != nil {
		return err
	}

	updated, err := tx.SubtractHolding(ctx, order.CryptoName, order.Amount)
	if err != nil {
		return err
	}

	record := &domain.Transaction{
		CryptoName:      order.CryptoName,
		TransactionType: domain.TransactionSell,
		Amount:          order.Amount,
		Price:           total,
	}
	if err := tx.AppendTransaction(ctx, record); err != nil {
		return errors.Wrap(err, "append transaction")
	}

	fill.Transaction = record
	fill.UpdatedAmount = updated
	fill.Total = total
	return nil
}

type stepFunc func(ctx context.Context, tx storage.LedgerTx, order Order, fill *Fill) error

func (s *Service) execute(ctx context.Context, side domain.TransactionType, order Order, step stepFunc) (*Fill, error) {
	start := time.Now()
	op := string(side)

	order, err := normalize(order)
	if err != nil {
		observability.RecordLedgerOperation(op, "invalid", time.Since(start).Seconds())
		return nil, err
	}

	fill := &Fill{}
	err = s.store.InTx(ctx, func(tx storage.LedgerTx) error {
		return step(ctx, tx, order, fill)
	})
	if err != nil {
		err = classify(err)
		observability.RecordLedgerOperation(op, outcome(err), time.Since(start).Seconds())
		if outcome(err) == "error" {
			s.logger.Error("order failed",
				zap.String("side", op),
				zap.String("crypto_name", order.CryptoName),
				zap.Stringer("amount", order.Amount),
				zap.Error(err))
		}
		return nil, err
	}

	observability.RecordLedgerOperation(op, "success", time.Since(start).Seconds())
	s.logger.Info("order filled",
		zap.String("side", op),
		zap.Int64("id", fill.Transaction.ID),
		zap.String("crypto_name", order.CryptoName),
		zap.Stringer("amount", order.Amount),
		zap.Stringer("total", fill.Total),
		zap.Stringer("updated_amount", fill.UpdatedAmount))

	s.publish(ctx, fill)
	return fill, nil
}

// publish is best effort: the committed ledger is the source of truth.
func (s *Service) publish(ctx context.Context, fill *Fill) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := events.NewTradeEvent(fill.Transaction, fill.UpdatedAmount)
	if err := s.publisher.Publish(ctx, event); err != nil {
		observability.RecordEventPublishError()
		s.logger.Warn("trade event not published",
			zap.Int64("id", event.ID),
			zap.Error(err))
	}
}

// normalize trims the name and checks the amount before any store access.
// Range checks look at the coefficient digits and exponent first, so an
// amount like 1e-2000000000 is rejected without rescaling it.
func normalize(order Order) (Order, error) {
	order.CryptoName = strings.TrimSpace(order.CryptoName)
	if order.CryptoName == "" {
		return order, invalid("cryptoName", "is required")
	}

	amount := order.Amount
	if !amount.IsPositive() {
		return order, invalid("amount", "must be a positive number")
	}

	digits := int64(amount.NumDigits())
	exp := int64(amount.Exponent())
	if digits+exp > maxIntegerDigits {
		return order, invalid("amount", "is too large")
	}
	// More fractional places than the coefficient has digits: trailing
	// zeros cannot bring it back to Scale.
	if -exp-Scale >= digits {
		return order, invalid("amount", "has more than 18 decimal places")
	}

	if !amount.Equal(amount.Truncate(Scale)) {
		return order, invalid("amount", "has more than 18 decimal places")
	}
	if amount.GreaterThanOrEqual(domain.NumericLimit) {
		return order, invalid("amount", "is too large")
	}
	return order, nil
}

// checkTotal rejects a trade whose consideration does not fit the ledger.
func checkTotal(total decimal.Decimal) error {
	if total.GreaterThanOrEqual(domain.NumericLimit) {
		return invalid("amount", "total is out of range")
	}
	return nil
}

// classify maps storage errors onto the ledger taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrUnknownInstrument
	case errors.Is(err, storage.ErrInsufficientHoldings):
		return ErrInsufficientHoldings
	case errors.Is(err, storage.ErrOutOfRange):
		return invalid("amount", "would exceed the holding limit")
	case errors.Is(err, ErrValidation):
		return err
	default:
		return errors.Wrap(err, "ledger store")
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrUnknownInstrument):
		return "not_found"
	case errors.Is(err, ErrInsufficientHoldings):
		return "insufficient"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
