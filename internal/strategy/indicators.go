// Package strategy contains trading strategies and the indicator math they
// share. Indicators run on midpoint prices; execution prices stay bid/ask.
package strategy

import (
	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// SMA returns the simple moving average of the last period mid closes, or
// zero when there is not enough history.
func SMA(bars []types.Bar, period int) decimal.Decimal {
	if period <= 0 || len(bars) < period {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, b := range bars[len(bars)-period:] {
		sum = sum.Add(b.MidClose())
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// RSI returns Wilder's relative strength index over the last period+1 mid
// closes, in [0, 100]. Returns 50 when history is insufficient, a neutral
// value that triggers no signal.
func RSI(bars []types.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 50
	}
	window := bars[len(bars)-period-1:]

	var gains, losses float64
	for i := 1; i < len(window); i++ {
		change, _ := window[i].MidClose().Sub(window[i-1].MidClose()).Float64()
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		if gains == 0 {
			return 50
		}
		return 100
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs)
}

// ATR returns the average true range over the last period bars, using
// midpoint highs and lows.
func ATR(bars []types.Bar, period int) decimal.Decimal {
	if period <= 0 || len(bars) < period+1 {
		return decimal.Zero
	}
	window := bars[len(bars)-period-1:]

	two := decimal.NewFromInt(2)
	sum := decimal.Zero
	for i := 1; i < len(window); i++ {
		high := window[i].BidHigh.Add(window[i].AskHigh).Div(two)
		low := window[i].BidLow.Add(window[i].AskLow).Div(two)
		prevClose := window[i-1].MidClose()

		tr := high.Sub(low)
		if hc := high.Sub(prevClose).Abs(); hc.GreaterThan(tr) {
			tr = hc
		}
		if lc := low.Sub(prevClose).Abs(); lc.GreaterThan(tr) {
			tr = lc
		}
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}
