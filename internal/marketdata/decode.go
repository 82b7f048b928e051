package marketdata

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"crypto-ledger/internal/domain"
)

// wireTicker is one entry of the provider's ticker map. Numeric fields arrive
// as JSON strings ("4500000.0") or numbers; both decode into decimal.Decimal.
// Pointers distinguish a missing field from a zero value.
type wireTicker struct {
	Name     *string          `json:"name"`
	BaseUnit *string          `json:"base_unit"`
	Last     *decimal.Decimal `json:"last"`
	Buy      *decimal.Decimal `json:"buy"`
	Sell     *decimal.Decimal `json:"sell"`
	Volume   *decimal.Decimal `json:"volume"`
}

// DecodeTickers parses a provider snapshot of the form
// {"btcinr": {"name": "BTC/INR", "base_unit": "btc", "last": "...", ...}, ...}.
//
// The object is read token by token so that the returned slice keeps the
// provider's key order, which is the tie-break order for ranking. An entry
// missing any of name, base_unit, last, buy, sell or volume makes the whole
// payload malformed.
func DecodeTickers(body []byte) ([]domain.Ticker, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(err, "read snapshot")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.Errorf("snapshot is not a JSON object (got %v)", tok)
	}

	var tickers []domain.Ticker
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, "read ticker key")
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errors.Errorf("unexpected token %v", keyTok)
		}

		var w wireTicker
		if err := dec.Decode(&w); err != nil {
			return nil, errors.Wrapf(err, "decode ticker %q", key)
		}
		t, err := w.toDomain(key)
		if err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}

	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrap(err, "read snapshot end")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after snapshot")
	}

	return tickers, nil
}

func (w wireTicker) toDomain(key string) (domain.Ticker, error) {
	switch {
	case w.Name == nil || *w.Name == "":
		return domain.Ticker{}, errors.Errorf("ticker %q: missing name", key)
	case w.BaseUnit == nil:
		return domain.Ticker{}, errors.Errorf("ticker %q: missing base_unit", key)
	case w.Last == nil || w.Buy == nil || w.Sell == nil || w.Volume == nil:
		return domain.Ticker{}, errors.Errorf("ticker %q: missing quote field", key)
	}

	return domain.Ticker{
		Key:      key,
		Name:     *w.Name,
		BaseUnit: *w.BaseUnit,
		Last:     *w.Last,
		Buy:      *w.Buy,
		Sell:     *w.Sell,
		Volume:   *w.Volume,
	}, nil
}
