package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord is the latest stored quote for one instrument.
// Corresponds to the crypto_data table. Name is the natural key.
type PriceRecord struct {
	Name      string          `json:"name"`
	Last      decimal.Decimal `json:"last"`
	Buy       decimal.Decimal `json:"buy"`
	Sell      decimal.Decimal `json:"sell"`
	Volume    decimal.Decimal `json:"volume"`
	BaseUnit  string          `json:"base_unit"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SameQuote reports whether two records carry identical quote fields.
// UpdatedAt is ignored.
func (p *PriceRecord) SameQuote(o *PriceRecord) bool {
	return p.Name == o.Name &&
		p.Last.Equal(o.Last) &&
		p.Buy.Equal(o.Buy) &&
		p.Sell.Equal(o.Sell) &&
		p.Volume.Equal(o.Volume) &&
		p.BaseUnit == o.BaseUnit
}

// Ticker is one instrument quote as delivered by the market-data provider.
// Key is the provider's map key (e.g. "btcinr"), Name the display name ("BTC/INR").
type Ticker struct {
	Key      string
	Name     string
	BaseUnit string
	Last     decimal.Decimal
	Buy      decimal.Decimal
	Sell     decimal.Decimal
	Volume   decimal.Decimal
}

// PriceRecord converts the ticker to its stored form.
func (t Ticker) PriceRecord() *PriceRecord {
	return &PriceRecord{
		Name:     t.Name,
		Last:     t.Last,
		Buy:      t.Buy,
		Sell:     t.Sell,
		Volume:   t.Volume,
		BaseUnit: t.BaseUnit,
	}
}

// PrunePolicy controls what happens to stored instruments that are absent
// from the latest top-N snapshot.
type PrunePolicy int

const (
	// PruneNone keeps stale rows forever.
	PruneNone PrunePolicy = iota
	// PruneStale deletes rows that are not part of the snapshot being written.
	PruneStale
)

func (p PrunePolicy) String() string {
	switch p {
	case PruneStale:
		return "stale"
	default:
		return "none"
	}
}
