package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the side of a ledger transaction.
type TransactionType string

const (
	TransactionBuy  TransactionType = "buy"
	TransactionSell TransactionType = "sell"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

// Stored amounts, prices and totals are NUMERIC(38,18): at most NumericScale
// fractional digits and strictly below NumericLimit.
const NumericScale = 18

// NumericLimit is the exclusive upper bound of a stored numeric value.
var NumericLimit = decimal.New(1, 38-NumericScale)

// Holding is the current quantity held of one instrument.
// Corresponds to user_holdings. Amount is never negative once committed.
type Holding struct {
	CryptoName string          `json:"crypto_name"`
	Amount     decimal.Decimal `json:"amount"`
}

// Transaction is one entry of the append-only trade log (user_transactions).
// Price is the total consideration of the trade, not the unit price.
type Transaction struct {
	ID              int64           `json:"id"`
	CryptoName      string          `json:"crypto_name"`
	TransactionType TransactionType `json:"transaction_type"`
	Amount          decimal.Decimal `json:"amount"`
	Price           decimal.Decimal `json:"price"`
	TransactionTime time.Time       `json:"transaction_time"`
}

// LedgerHistory is a consistent read of the whole ledger.
type LedgerHistory struct {
	Transactions []*Transaction // transaction_time DESC, id DESC
	Holdings     []*Holding     // crypto_name ASC
}
