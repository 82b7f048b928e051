// Package events publishes committed ledger trades to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/idhash"
)

// TradeEvent is the wire form of one committed buy or sell.
type TradeEvent struct {
	ID            int64                  `json:"id"`
	EventID       string                 `json:"eventId"`
	CryptoName    string                 `json:"cryptoName"`
	Type          domain.TransactionType `json:"type"`
	Amount        decimal.Decimal        `json:"amount"`
	Price         decimal.Decimal        `json:"price"`
	UpdatedAmount decimal.Decimal        `json:"updatedAmount"`
	Time          time.Time              `json:"time"`
}

// NewTradeEvent builds the event for a committed transaction and the holding
// amount it left behind.
func NewTradeEvent(tx *domain.Transaction, updatedAmount decimal.Decimal) TradeEvent {
	return TradeEvent{
		ID:            tx.ID,
		EventID:       idhash.ComputeEventID(tx),
		CryptoName:    tx.CryptoName,
		Type:          tx.TransactionType,
		Amount:        tx.Amount,
		Price:         tx.Price,
		UpdatedAmount: updatedAmount,
		Time:          tx.TransactionTime.UTC(),
	}
}

// Publisher delivers trade events.
type Publisher interface {
	Publish(ctx context.Context, event TradeEvent) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, TradeEvent) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
