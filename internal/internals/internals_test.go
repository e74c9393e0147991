package internals

import (
	"testing"

	"github.com/nsealgo/controller/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuotes() []domain.Quote {
	return []domain.Quote{
		{Symbol: "RELIANCE", LTP: 2550, High: 2560, Low: 2500, VWAP: 2530, Volume: 1_000_000, ChangePercent: 1.2},
		{Symbol: "TCS", LTP: 3900, High: 3950, Low: 3880, VWAP: 3920, Volume: 500_000, ChangePercent: -0.8},
		{Symbol: "INFY", LTP: 1600, High: 1620, Low: 1590, VWAP: 1595, Volume: 800_000, ChangePercent: 0.5},
	}
}

func TestComputeEmptyQuotesReturnsNeutral(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	snap := a.Compute(nil, domain.Quote{}, 14, 0, nil)
	assert.Equal(t, domain.RegimeNormal, snap.Regime)
	assert.InDelta(t, 100.0/3, snap.Bullish, 0.001)
}

func TestComputeBreadthAdvanceDeclineRatio(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	snap := a.Compute(sampleQuotes(), domain.Quote{ChangePercent: 0.3}, 14, 0.1, nil)
	assert.Greater(t, snap.Breadth.AdvanceDeclineRatio, 0.0)
	assert.InDelta(t, 100.0, snap.Bullish+snap.Bearish+snap.NeutralScore, 0.01)
}

func TestComputeVolumeUpRatio(t *testing.T) {
	v := computeVolume(sampleQuotes())
	require.Greater(t, v.UpVolumeRatio, 0.0)
	require.Less(t, v.UpVolumeRatio, 1.0)
}

func TestChoppinessFallsBackWithoutCandles(t *testing.T) {
	ci := computeChoppiness(nil, 0.2)
	assert.Equal(t, 70.0, ci)

	ci2 := computeChoppiness(nil, 1.5)
	assert.Equal(t, 40.0, ci2)
}

func TestChoppinessComputesFromCandles(t *testing.T) {
	candles := []Candle{
		{High: 100, Low: 98, Close: 99},
		{High: 101, Low: 99, Close: 100},
		{High: 102, Low: 100, Close: 101},
		{High: 103, Low: 101, Close: 102},
	}
	ci := computeChoppiness(candles, 0.1)
	assert.Greater(t, ci, 0.0)
}

func TestClassifyRegimeTrendingOnBigMove(t *testing.T) {
	r := classifyRegime(0.8, 1.5, 18, 50, 30, 1.0)
	assert.Equal(t, domain.RegimeTrending, r)
}

func TestClassifyRegimeVolatileTrendingOnHighVIX(t *testing.T) {
	r := classifyRegime(0.8, 1.5, 30, 50, 30, 1.0)
	assert.Equal(t, domain.RegimeVolatileTrending, r)
}

func TestClassifyRegimeChoppy(t *testing.T) {
	r := classifyRegime(0.1, 1.0, 15, 70, 10, 1.0)
	assert.Equal(t, domain.RegimeChoppy, r)
}

func TestClassifyRegimeQuiet(t *testing.T) {
	r := classifyRegime(0.05, 1.0, 12, 50, 5, 0.2)
	assert.Equal(t, domain.RegimeQuiet, r)
}

func TestComputePanicRecoversToNeutral(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	// A single quote with Open==0 and malformed values should never panic
	// the caller even if an internal computation misbehaves.
	snap := a.Compute([]domain.Quote{{Symbol: "X"}}, domain.Quote{}, 0, 0, nil)
	assert.NotEmpty(t, snap.Regime)
}
