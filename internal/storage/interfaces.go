package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"crypto-ledger/internal/domain"
)

// PriceStore provides access to the crypto_data snapshot.
type PriceStore interface {
	// UpsertBatch inserts or overwrites every record keyed by name, atomically.
	// With domain.PruneStale, rows whose name is not in records are deleted in
	// the same transaction. Returns the number of pruned rows.
	UpsertBatch(ctx context.Context, records []*domain.PriceRecord, policy domain.PrunePolicy) (int64, error)

	// GetByName retrieves the record for an instrument. Returns ErrNotFound if absent.
	GetByName(ctx context.Context, name string) (*domain.PriceRecord, error)

	// GetAll retrieves all stored records ordered by name ASC.
	GetAll(ctx context.Context) ([]*domain.PriceRecord, error)
}

// LedgerStore provides access to user_holdings and user_transactions.
type LedgerStore interface {
	// InTx runs fn inside one store transaction. The transaction commits if fn
	// returns nil and rolls back otherwise; fn's error is returned unchanged.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// ListTransactions retrieves all transactions ordered by transaction_time DESC, id DESC.
	ListTransactions(ctx context.Context) ([]*domain.Transaction, error)

	// ListHoldings retrieves all holdings ordered by crypto_name ASC.
	ListHoldings(ctx context.Context) ([]*domain.Holding, error)

	// History retrieves transactions and holdings from a single consistent read.
	History(ctx context.Context) (*domain.LedgerHistory, error)
}

// LedgerTx is the unit of work handed to LedgerStore.InTx.
type LedgerTx interface {
	// PriceByName reads the current price record. Returns ErrNotFound if absent.
	PriceByName(ctx context.Context, name string) (*domain.PriceRecord, error)

	// AddHolding adds amount to the holding, creating it if needed.
	// Returns the updated amount.
	AddHolding(ctx context.Context, name string, amount decimal.Decimal) (decimal.Decimal, error)

	// SubtractHolding removes amount from the holding in one conditional step.
	// Returns ErrInsufficientHoldings if the holding is absent or smaller than amount.
	SubtractHolding(ctx context.Context, name string, amount decimal.Decimal) (decimal.Decimal, error)

	// AppendTransaction appends t to the log and fills in ID and TransactionTime.
	AppendTransaction(ctx context.Context, t *domain.Transaction) error
}
