package engine

import (
	"math"

	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// tradingDaysPerYear annualizes the per-trade Sharpe ratio.
const tradingDaysPerYear = 252

// Analyze computes the performance report for a set of closed trades and an
// equity curve. Statistics are computed in float64; only monetary fields
// keep decimal precision.
//
// Zero trades is a valid outcome, not an error: the report carries all-zero
// metrics with NoTrades set, and no field is ever NaN or Inf.
func Analyze(trades []types.ClosedTrade, equity []types.EquityPoint, initialBalance decimal.Decimal) types.PerformanceReport {
	report := types.PerformanceReport{
		FinalBalance: finalBalance(trades, initialBalance),
	}
	if len(trades) == 0 {
		report.NoTrades = true
		return report
	}

	var (
		winPips, lossPips   float64
		grossWin, grossLoss float64
		totalCost           float64
		returns             []float64
	)
	report.TotalTrades = len(trades)
	report.LargestWin = trades[0].Profit
	report.LargestLoss = trades[0].Profit

	// Per-trade returns are fractions of the balance at entry, so the Sharpe
	// ratio is scale-free under compounding.
	balance := initialBalance.InexactFloat64()

	for _, t := range trades {
		net := t.NetPips.InexactFloat64()
		profit := t.Profit.InexactFloat64()
		totalCost += t.TotalCostPips.InexactFloat64()
		if balance > 0 {
			returns = append(returns, profit/balance)
		}
		balance += profit

		if net > 0 {
			report.WinningTrades++
			winPips += net
			grossWin += profit
		} else {
			report.LosingTrades++
			lossPips += net
			grossLoss += math.Abs(profit)
		}
		if t.Profit.GreaterThan(report.LargestWin) {
			report.LargestWin = t.Profit
		}
		if t.Profit.LessThan(report.LargestLoss) {
			report.LargestLoss = t.Profit
		}
	}

	report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades)
	if report.WinningTrades > 0 {
		report.AvgWinPips = winPips / float64(report.WinningTrades)
	}
	if report.LosingTrades > 0 {
		report.AvgLossPips = lossPips / float64(report.LosingTrades)
	}
	report.TotalCostPips = totalCost

	// Floor the denominator so an all-winning run yields a large finite
	// profit factor instead of Inf.
	report.ProfitFactor = grossWin / math.Max(grossLoss, 1e-9)

	report.Expectancy = report.WinRate*report.AvgWinPips + (1-report.WinRate)*report.AvgLossPips
	report.SharpeRatio = sharpe(returns)
	report.MaxDrawdown = maxDrawdown(equity)

	if init := initialBalance.InexactFloat64(); init > 0 {
		report.TotalReturn = (report.FinalBalance.InexactFloat64() - init) / init
	}
	return report
}

// sharpe is the annualized mean-over-stddev of per-trade percentage returns.
// Fewer than two trades, or zero variance, yields zero.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown returns the largest peak-to-trough equity decline as a
// fraction of the peak.
func maxDrawdown(equity []types.EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0].Equity.InexactFloat64()
	var worst float64
	for _, p := range equity {
		e := p.Equity.InexactFloat64()
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func finalBalance(trades []types.ClosedTrade, initial decimal.Decimal) decimal.Decimal {
	balance := initial
	for _, t := range trades {
		balance = balance.Add(t.Profit)
	}
	return balance
}
