package engine

import (
	"math"
	"testing"
	"time"

	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedTrade(netPips, profit float64) types.ClosedTrade {
	return types.ClosedTrade{
		Trade: types.Trade{
			Instrument: "EUR_USD",
			Direction:  types.DirectionBuy,
			Units:      10000,
			EntryTime:  time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
		},
		ExitTime:      time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC),
		NetPips:       dec(netPips),
		GrossPips:     dec(netPips + 2),
		TotalCostPips: dec(2),
		Profit:        dec(profit),
	}
}

func TestAnalyzeZeroTrades(t *testing.T) {
	report := Analyze(nil, nil, decimal.NewFromInt(10000))

	assert.True(t, report.NoTrades)
	assert.Zero(t, report.TotalTrades)
	assert.Zero(t, report.WinRate)
	assert.Zero(t, report.ProfitFactor)
	assert.Zero(t, report.SharpeRatio)
	assert.Zero(t, report.Expectancy)
	assert.True(t, report.FinalBalance.Equal(decimal.NewFromInt(10000)))

	for key, val := range report.Flat() {
		if f, ok := val.(float64); ok {
			assert.False(t, math.IsNaN(f) || math.IsInf(f, 0), "key %s is %v", key, f)
		}
	}
	assert.Equal(t, true, report.Flat()["no_trades"])
}

func TestAnalyzeBasicAggregates(t *testing.T) {
	trades := []types.ClosedTrade{
		closedTrade(30, 30),
		closedTrade(-10, -10),
		closedTrade(20, 20),
		closedTrade(-20, -20),
	}
	report := Analyze(trades, nil, decimal.NewFromInt(10000))

	assert.Equal(t, 4, report.TotalTrades)
	assert.Equal(t, 2, report.WinningTrades)
	assert.Equal(t, 2, report.LosingTrades)
	assert.InDelta(t, 0.5, report.WinRate, 1e-9)
	assert.InDelta(t, 25, report.AvgWinPips, 1e-9)
	assert.InDelta(t, -15, report.AvgLossPips, 1e-9)
	assert.InDelta(t, 50.0/30.0, report.ProfitFactor, 1e-9)
	// expectancy = 0.5*25 + 0.5*(-15) = 5 pips per trade
	assert.InDelta(t, 5, report.Expectancy, 1e-9)
	assert.True(t, report.FinalBalance.Equal(decimal.NewFromInt(10020)))
	assert.InDelta(t, 0.002, report.TotalReturn, 1e-9)
	assert.True(t, report.LargestWin.Equal(dec(30)))
	assert.True(t, report.LargestLoss.Equal(dec(-20)))
}

func TestAnalyzeAllWinnersHasFiniteProfitFactor(t *testing.T) {
	trades := []types.ClosedTrade{closedTrade(10, 10), closedTrade(15, 15)}
	report := Analyze(trades, nil, decimal.NewFromInt(10000))

	require.False(t, math.IsInf(report.ProfitFactor, 1))
	assert.Greater(t, report.ProfitFactor, 1e6)
}

func TestMaxDrawdown(t *testing.T) {
	base := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	equity := []types.EquityPoint{
		{Timestamp: base, Equity: decimal.NewFromInt(10000)},
		{Timestamp: base.Add(time.Hour), Equity: decimal.NewFromInt(12000)},
		{Timestamp: base.Add(2 * time.Hour), Equity: decimal.NewFromInt(9000)},
		{Timestamp: base.Add(3 * time.Hour), Equity: decimal.NewFromInt(11000)},
	}
	// Peak 12,000 to trough 9,000 is a 25% drawdown.
	assert.InDelta(t, 0.25, maxDrawdown(equity), 1e-9)
}

func TestSharpeZeroVariance(t *testing.T) {
	assert.Zero(t, sharpe([]float64{5, 5, 5}))
	assert.Zero(t, sharpe([]float64{5}))
}

func TestSharpeUsesPercentageReturns(t *testing.T) {
	// Equal dollar profits shrink as a fraction of the compounding balance,
	// so the return series is not constant and the ratio is positive.
	trades := []types.ClosedTrade{
		closedTrade(50, 5000),
		closedTrade(50, 5000),
		closedTrade(50, 5000),
	}
	report := Analyze(trades, nil, decimal.NewFromInt(10000))
	assert.Positive(t, report.SharpeRatio)
}

func TestSharpeScaleFree(t *testing.T) {
	trades := []types.ClosedTrade{
		closedTrade(30, 120),
		closedTrade(-10, -40),
		closedTrade(20, 80),
		closedTrade(-5, -20),
	}
	small := Analyze(trades, nil, decimal.NewFromInt(10000))

	scaled := make([]types.ClosedTrade, len(trades))
	for i, tr := range trades {
		tr.Profit = tr.Profit.Mul(decimal.NewFromInt(10))
		scaled[i] = tr
	}
	big := Analyze(scaled, nil, decimal.NewFromInt(100000))

	require.NotZero(t, small.SharpeRatio)
	assert.InDelta(t, small.SharpeRatio, big.SharpeRatio, 1e-9)
}
