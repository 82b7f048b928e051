package ingestion

import (
	"sort"

	"crypto-ledger/internal/domain"
)

// RankByVolume returns a copy of tickers ordered by volume DESC.
// Tickers with equal volume keep their relative input order, which is the
// provider's key order.
func RankByVolume(tickers []domain.Ticker) []domain.Ticker {
	ranked := make([]domain.Ticker, len(tickers))
	copy(ranked, tickers)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Volume.GreaterThan(ranked[j].Volume)
	})

	return ranked
}

// TopByVolume ranks tickers and returns the records of the first n distinct
// instrument names. When two provider keys share a display name, the higher
// ranked one wins.
func TopByVolume(tickers []domain.Ticker, n int) []*domain.PriceRecord {
	if n <= 0 {
		return nil
	}

	ranked := RankByVolume(tickers)
	seen := make(map[string]struct{}, n)
	top := make([]*domain.PriceRecord, 0, min(n, len(ranked)))

	for _, t := range ranked {
		if len(top) == n {
			break
		}
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		top = append(top, t.PriceRecord())
	}

	return top
}
