package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL.
// Uses two tables:
//   - user_holdings: one row per instrument, amount constrained to >= 0
//   - user_transactions: append-only trade log
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.LedgerStore = (*LedgerStore)(nil)
	_ storage.LedgerTx    = (*ledgerTx)(nil)
)

// InTx runs fn in a READ COMMITTED transaction. Row locks taken by the
// holding updates serialize concurrent operations on the same instrument.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListTransactions retrieves all transactions, newest first.
func (s *LedgerStore) ListTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	return listTransactions(ctx, s.pool)
}

// ListHoldings retrieves all holdings ordered by crypto_name.
func (s *LedgerStore) ListHoldings(ctx context.Context) ([]*domain.Holding, error) {
	return listHoldings(ctx, s.pool)
}

// History reads transactions and holdings from one REPEATABLE READ snapshot.
func (s *LedgerStore) History(ctx context.Context) (*domain.LedgerHistory, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback(ctx)

	transactions, err := listTransactions(ctx, tx)
	if err != nil {
		return nil, err
	}
	holdings, err := listHoldings(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit read tx: %w", err)
	}

	return &domain.LedgerHistory{Transactions: transactions, Holdings: holdings}, nil
}

// ledgerTx implements storage.LedgerTx on top of a pgx.Tx.
type ledgerTx struct {
	tx pgx.Tx
}

// PriceByName reads the current price inside the transaction.
func (t *ledgerTx) PriceByName(ctx context.Context, name string) (*domain.PriceRecord, error) {
	return getPriceByName(ctx, t.tx, name)
}

// AddHolding upserts the holding and returns the new amount.
func (t *ledgerTx) AddHolding(ctx context.Context, name string, amount decimal.Decimal) (decimal.Decimal, error) {
	var updated decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		INSERT INTO user_holdings (crypto_name, amount, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (crypto_name) DO UPDATE
		SET amount = user_holdings.amount + EXCLUDED.amount,
		    updated_at = NOW()
		RETURNING amount
	`, name, amount).Scan(&updated)
	if err != nil {
		if isNumericOutOfRange(err) {
			return decimal.Zero, storage.ErrOutOfRange
		}
		return decimal.Zero, fmt.Errorf("add holding: %w", err)
	}
	return updated, nil
}

// SubtractHolding decrements the holding only if it covers amount. The check
// and the write are one statement; the CHECK (amount >= 0) constraint backs it up.
func (t *ledgerTx) SubtractHolding(ctx context.Context, name string, amount decimal.Decimal) (decimal.Decimal, error) {
	var updated decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		UPDATE user_holdings
		SET amount = amount - $2,
		    updated_at = NOW()
		WHERE crypto_name = $1 AND amount >= $2
		RETURNING amount
	`, name, amount).Scan(&updated)
	if err != nil {
		if isNotFoundError(err) || isCheckViolation(err) {
			return decimal.Zero, storage.ErrInsufficientHoldings
		}
		return decimal.Zero, fmt.Errorf("subtract holding: %w", err)
	}
	return updated, nil
}

// AppendTransaction inserts the log entry and fills in ID and TransactionTime.
func (t *ledgerTx) AppendTransaction(ctx context.Context, tr *domain.Transaction) error {
	if tr == nil || tr.CryptoName == "" || !tr.TransactionType.Valid() {
		return storage.ErrInvalidInput
	}

	err := t.tx.QueryRow(ctx, `
		INSERT INTO user_transactions (crypto_name, transaction_type, amount, price)
		VALUES ($1, $2, $3, $4)
		RETURNING id, transaction_time
	`, tr.CryptoName, string(tr.TransactionType), tr.Amount, tr.Price).Scan(&tr.ID, &tr.TransactionTime)
	if err != nil {
		if isCheckViolation(err) {
			return storage.ErrInvalidInput
		}
		if isNumericOutOfRange(err) {
			return storage.ErrOutOfRange
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// rowsQuerier is satisfied by both the pool and a pgx.Tx.
type rowsQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listTransactions(ctx context.Context, q rowsQuerier) ([]*domain.Transaction, error) {
	rows, err := q.Query(ctx, `
		SELECT id, crypto_name, transaction_type, amount, price, transaction_time
		FROM user_transactions
		ORDER BY transaction_time DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tr domain.Transaction
		var txType string
		if err := rows.Scan(&tr.ID, &tr.CryptoName, &txType, &tr.Amount, &tr.Price, &tr.TransactionTime); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		tr.TransactionType = domain.TransactionType(txType)
		transactions = append(transactions, &tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}

	return transactions, nil
}

func listHoldings(ctx context.Context, q rowsQuerier) ([]*domain.Holding, error) {
	rows, err := q.Query(ctx, `
		SELECT crypto_name, amount
		FROM user_holdings
		ORDER BY crypto_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []*domain.Holding
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.CryptoName, &h.Amount); err != nil {
			return nil, fmt.Errorf("scan holding row: %w", err)
		}
		holdings = append(holdings, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holding rows: %w", err)
	}

	return holdings, nil
}
