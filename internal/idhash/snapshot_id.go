package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"crypto-ledger/internal/domain"
)

// ComputeSnapshotID computes a deterministic id for a ranked set of quotes.
// Each record contributes name|last|buy|sell|volume|base_unit, one per line,
// in the given order. Returns hex-encoded hash (64 characters).
//
// Two polls with the same id stored identical quotes.
func ComputeSnapshotID(records []*domain.PriceRecord) string {
	h := sha256.New()
	for _, r := range records {
		fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s\n",
			r.Name,
			r.Last.String(),
			r.Buy.String(),
			r.Sell.String(),
			r.Volume.String(),
			r.BaseUnit,
		)
	}
	return hex.EncodeToString(h.Sum(nil))
}
