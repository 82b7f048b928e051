package ingestion

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-ledger/internal/domain"
)

func TestRankByVolume_Descending(t *testing.T) {
	tickers := []domain.Ticker{ticker("A", 5), ticker("B", 50), ticker("C", 20)}

	ranked := RankByVolume(tickers)

	require.Len(t, ranked, 3)
	assert.Equal(t, "B", ranked[0].Name)
	assert.Equal(t, "C", ranked[1].Name)
	assert.Equal(t, "A", ranked[2].Name)

	// Input is not reordered.
	assert.Equal(t, "A", tickers[0].Name)
}

func TestRankByVolume_TiesKeepInputOrder(t *testing.T) {
	tickers := []domain.Ticker{
		ticker("X", 10),
		ticker("Y", 30),
		ticker("Z", 10),
		ticker("W", 10),
	}

	for i := 0; i < 20; i++ {
		ranked := RankByVolume(tickers)
		names := []string{ranked[0].Name, ranked[1].Name, ranked[2].Name, ranked[3].Name}
		assert.Equal(t, []string{"Y", "X", "Z", "W"}, names)
	}
}

func TestRankByVolume_DecimalPrecision(t *testing.T) {
	a := ticker("A", 0)
	a.Volume = decimal.RequireFromString("1.0000000001")
	b := ticker("B", 0)
	b.Volume = decimal.RequireFromString("1.0000000002")

	ranked := RankByVolume([]domain.Ticker{a, b})
	assert.Equal(t, "B", ranked[0].Name)
}

func TestTopByVolume_FifteenToTen(t *testing.T) {
	var tickers []domain.Ticker
	for i := 0; i < 15; i++ {
		// Volumes 0,0,0,1,1,1,... so every cut crosses a tie.
		tickers = append(tickers, ticker(fmt.Sprintf("T%02d", i), int64(i/3)))
	}

	top := TopByVolume(tickers, 10)
	require.Len(t, top, 10)

	want := []string{
		"T12", "T13", "T14",
		"T09", "T10", "T11",
		"T06", "T07", "T08",
		"T03",
	}
	for i, name := range want {
		assert.Equal(t, name, top[i].Name, "position %d", i)
	}

	again := TopByVolume(tickers, 10)
	for i := range top {
		assert.Equal(t, top[i].Name, again[i].Name)
	}
}

func TestTopByVolume_FewerThanN(t *testing.T) {
	top := TopByVolume([]domain.Ticker{ticker("A", 1), ticker("B", 2)}, 10)
	require.Len(t, top, 2)
	assert.Equal(t, "B", top[0].Name)
}

func TestTopByVolume_DuplicateNames(t *testing.T) {
	low := ticker("BTC/INR", 1)
	low.Key = "btcinr_old"
	high := ticker("BTC/INR", 9)
	high.Key = "btcinr"

	top := TopByVolume([]domain.Ticker{low, high, ticker("ETH/INR", 5)}, 10)

	require.Len(t, top, 2)
	assert.Equal(t, "BTC/INR", top[0].Name)
	assert.True(t, top[0].Volume.Equal(decimal.NewFromInt(9)))
	assert.Equal(t, "ETH/INR", top[1].Name)
}

func TestTopByVolume_NonPositiveN(t *testing.T) {
	assert.Empty(t, TopByVolume([]domain.Ticker{ticker("A", 1)}, 0))
}
