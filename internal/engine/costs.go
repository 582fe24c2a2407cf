// Package engine implements the simulated execution core: cost modeling,
// pip valuation, position sizing and the broker state machine.
package engine

import (
	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// CostBreakdown itemizes the transaction cost of one trade, in pips.
type CostBreakdown struct {
	SpreadPips    decimal.Decimal `json:"spreadPips"`
	SlippagePips  decimal.Decimal `json:"slippagePips"`
	SwapPips      decimal.Decimal `json:"swapPips"`
	EntryCostPips decimal.Decimal `json:"entryCostPips"`
	ExitCostPips  decimal.Decimal `json:"exitCostPips"`
}

// Total returns entry + exit + swap.
func (c CostBreakdown) Total() decimal.Decimal {
	return c.EntryCostPips.Add(c.ExitCostPips).Add(c.SwapPips)
}

// CostModel computes per-trade transaction costs. It is a pure function of
// its inputs: deterministic for fixed inputs and independently testable.
//
// Slippage is modeled as a fixed fraction of the observed spread, doubled
// near flagged news events. This is an approximation, not a validated market
// impact model; it does not account for order size.
type CostModel struct {
	cfg *types.Config
}

// NewCostModel creates a cost model over the engine configuration.
func NewCostModel(cfg *types.Config) *CostModel {
	return &CostModel{cfg: cfg}
}

// CostFor computes the cost of entering and exiting one position at this
// bar. holdingDays accrues swap linearly using the instrument's daily rate;
// a non-positive direction uses the short swap rate.
func (m *CostModel) CostFor(bar *types.Bar, session types.Session, isNewsEvent bool, holdingDays float64, direction types.Direction) CostBreakdown {
	pipSize := types.PipSize(bar.Instrument)
	profile := m.cfg.CostsFor(bar.Instrument)

	// Spread in pips, widened by the session's liquidity multiplier.
	rawSpread := bar.Spread().Div(pipSize)
	mult := decimal.NewFromFloat(m.cfg.SessionMultiplier(session))
	spread := rawSpread.Mul(mult)

	// Slippage as a fraction of spread; doubled around news.
	slippage := spread.Mul(profile.SlippageFrac)
	if isNewsEvent {
		slippage = slippage.Mul(decimal.NewFromInt(2))
	}

	// Overnight financing accrues linearly with holding days.
	var swap decimal.Decimal
	if holdingDays > 0 {
		rate := profile.SwapLongPips
		if direction == types.DirectionSell {
			rate = profile.SwapShortPips
		}
		// Swap rates are credits when positive; costs are positive pips here.
		swap = rate.Neg().Mul(decimal.NewFromFloat(holdingDays))
	}

	// The spread is paid once, crossing it on entry; slippage applies on
	// both fills.
	half := decimal.NewFromFloat(0.5)
	entry := spread.Mul(half).Add(slippage)
	exit := spread.Mul(half).Add(slippage).Add(swap)

	return CostBreakdown{
		SpreadPips:    spread,
		SlippagePips:  slippage.Mul(decimal.NewFromInt(2)),
		SwapPips:      swap,
		EntryCostPips: entry,
		ExitCostPips:  exit,
	}
}
