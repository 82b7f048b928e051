package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"crypto-ledger/internal/domain"
)

// ComputeEventID computes a deterministic event id for a committed transaction.
// Formula: SHA256(id|crypto_name|type|amount|price|transaction_time_unix_nano)
// Returns hex-encoded hash (64 characters).
//
// Consumers use it to drop redelivered events.
func ComputeEventID(tx *domain.Transaction) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%d",
		tx.ID,
		tx.CryptoName,
		string(tx.TransactionType),
		tx.Amount.String(),
		tx.Price.String(),
		tx.TransactionTime.UnixNano(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
