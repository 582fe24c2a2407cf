// Package types provides shared type definitions for the backtesting engine.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the side of a trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// TradeStatus is the lifecycle state of a trade.
//
// Transitions: PENDING -> OPEN -> one of the CLOSED_* states.
// PENDING and the CLOSED_* states are terminal with respect to mutation.
type TradeStatus string

const (
	TradeStatusPending      TradeStatus = "pending"
	TradeStatusOpen         TradeStatus = "open"
	TradeStatusClosedStop   TradeStatus = "closed_stop"
	TradeStatusClosedTarget TradeStatus = "closed_target"
	TradeStatusClosedManual TradeStatus = "closed_manual"
	TradeStatusClosedTime   TradeStatus = "closed_time"
)

// Closed reports whether the status is one of the terminal closed states.
func (s TradeStatus) Closed() bool {
	switch s {
	case TradeStatusClosedStop, TradeStatusClosedTarget, TradeStatusClosedManual, TradeStatusClosedTime:
		return true
	}
	return false
}

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitReasonStop   ExitReason = "stop"
	ExitReasonTarget ExitReason = "target"
	ExitReasonTime   ExitReason = "time"
	ExitReasonManual ExitReason = "manual"
)

// Granularity represents a bar timeframe.
type Granularity string

const (
	GranularityM1  Granularity = "M1"
	GranularityM5  Granularity = "M5"
	GranularityM15 Granularity = "M15"
	GranularityH1  Granularity = "H1"
	GranularityH4  Granularity = "H4"
	GranularityD1  Granularity = "D1"
)

// Duration returns the wall-clock span of one bar.
func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityM1:
		return time.Minute
	case GranularityM5:
		return 5 * time.Minute
	case GranularityM15:
		return 15 * time.Minute
	case GranularityH1:
		return time.Hour
	case GranularityH4:
		return 4 * time.Hour
	case GranularityD1:
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// ErrInvalidBar indicates a bar that violates basic price integrity
// (ask below bid). Fatal for the simulation run that encounters it.
var ErrInvalidBar = errors.New("invalid bar: ask below bid")

// Bar is a single bid/ask candlestick. Immutable once fetched; owned by the
// data provider's cache.
type Bar struct {
	Instrument string          `json:"instrument"`
	Timestamp  time.Time       `json:"timestamp"`
	BidOpen    decimal.Decimal `json:"bidOpen"`
	BidHigh    decimal.Decimal `json:"bidHigh"`
	BidLow     decimal.Decimal `json:"bidLow"`
	BidClose   decimal.Decimal `json:"bidClose"`
	AskOpen    decimal.Decimal `json:"askOpen"`
	AskHigh    decimal.Decimal `json:"askHigh"`
	AskLow     decimal.Decimal `json:"askLow"`
	AskClose   decimal.Decimal `json:"askClose"`
	Volume     int64           `json:"volume"`
}

// Validate checks price integrity. The engine assumes ask >= bid at all times.
func (b *Bar) Validate() error {
	if b.AskOpen.LessThan(b.BidOpen) || b.AskHigh.LessThan(b.BidHigh) ||
		b.AskLow.LessThan(b.BidLow) || b.AskClose.LessThan(b.BidClose) {
		return fmt.Errorf("%w: %s at %s", ErrInvalidBar, b.Instrument, b.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// Spread returns ask close minus bid close.
func (b *Bar) Spread() decimal.Decimal {
	return b.AskClose.Sub(b.BidClose)
}

// MidClose returns the midpoint close, used for indicators only, never fills.
func (b *Bar) MidClose() decimal.Decimal {
	return b.BidClose.Add(b.AskClose).Div(decimal.NewFromInt(2))
}

// Signal is the output of a strategy callback. The engine never inspects how
// the decision was made.
type Signal struct {
	Direction    Direction       `json:"direction"`
	StopPrice    decimal.Decimal `json:"stopPrice"`
	TargetPrice  decimal.Decimal `json:"targetPrice"`
	DesiredUnits int64           `json:"desiredUnits"`
}

// Trade is an open or pending position. Created by the broker on an approved
// entry and mutated only by the broker; the broker holds the authoritative
// collection indexed by id, and trades never reference the broker back.
type Trade struct {
	ID            string          `json:"id"`
	Instrument    string          `json:"instrument"`
	Direction     Direction       `json:"direction"`
	Units         int64           `json:"units"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	EntryTime     time.Time       `json:"entryTime"`
	EntryCostPips decimal.Decimal `json:"entryCostPips"`
	StopPrice     decimal.Decimal `json:"stopPrice"`
	TargetPrice   decimal.Decimal `json:"targetPrice"`
	Status        TradeStatus     `json:"status"`
}

// ClosedTrade is a Trade plus its exit record. Immutable once produced.
//
// Invariant: NetPips = GrossPips - TotalCostPips, and GrossPips is positive
// when the price moved in the trade's favor regardless of direction.
type ClosedTrade struct {
	Trade
	ExitPrice     decimal.Decimal `json:"exitPrice"`
	ExitTime      time.Time       `json:"exitTime"`
	ExitReason    ExitReason      `json:"exitReason"`
	GrossPips     decimal.Decimal `json:"grossPips"`
	TotalCostPips decimal.Decimal `json:"totalCostPips"`
	NetPips       decimal.Decimal `json:"netPips"`
	Profit        decimal.Decimal `json:"profit"` // account currency
}

// EquityPoint is a point on the simulated equity curve.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Balance   decimal.Decimal `json:"balance"`
}

// ParameterSet is a fixed-shape record of strategy inputs. It is an immutable
// value type compared by structural equality, which makes grid points
// cacheable and duplicates detectable.
type ParameterSet struct {
	RSIOversold     int     `json:"rsiOversold"`
	RSIOverbought   int     `json:"rsiOverbought"`
	MAShortPeriod   int     `json:"maShortPeriod"`
	MALongPeriod    int     `json:"maLongPeriod"`
	RewardRisk      float64 `json:"rewardRisk"`
	ATRMultiplier   float64 `json:"atrMultiplier"`
	RiskPercent     float64 `json:"riskPercent"`
}

// Valid rejects structurally impossible combinations.
func (p ParameterSet) Valid() bool {
	return p.RSIOversold < p.RSIOverbought && p.MAShortPeriod < p.MALongPeriod
}

// Key returns a stable string identity for use as a map key.
func (p ParameterSet) Key() string {
	return fmt.Sprintf("rsi=%d/%d ma=%d/%d rr=%.2f atr=%.2f risk=%.2f",
		p.RSIOversold, p.RSIOverbought, p.MAShortPeriod, p.MALongPeriod,
		p.RewardRisk, p.ATRMultiplier, p.RiskPercent)
}

// PerformanceReport aggregates risk-adjusted metrics for a set of closed
// trades. Always fully populated: the zero-trade case carries all-zero
// numeric fields and NoTrades set, never missing keys.
type PerformanceReport struct {
	TotalTrades   int             `json:"totalTrades"`
	WinningTrades int             `json:"winningTrades"`
	LosingTrades  int             `json:"losingTrades"`
	WinRate       float64         `json:"winRate"`
	AvgWinPips    float64         `json:"avgWinPips"`
	AvgLossPips   float64         `json:"avgLossPips"`
	ProfitFactor  float64         `json:"profitFactor"`
	SharpeRatio   float64         `json:"sharpeRatio"`
	MaxDrawdown   float64         `json:"maxDrawdown"`
	Expectancy    float64         `json:"expectancy"`
	LargestWin    decimal.Decimal `json:"largestWin"`
	LargestLoss   decimal.Decimal `json:"largestLoss"`
	TotalReturn   float64         `json:"totalReturn"`
	FinalBalance  decimal.Decimal `json:"finalBalance"`
	TotalCostPips float64         `json:"totalCostPips"`
	NoTrades      bool            `json:"noTrades"`
}

// Flat returns the report as a flat key->value map suitable for JSON/CSV.
func (r *PerformanceReport) Flat() map[string]any {
	return map[string]any{
		"total_trades":    r.TotalTrades,
		"winning_trades":  r.WinningTrades,
		"losing_trades":   r.LosingTrades,
		"win_rate":        r.WinRate,
		"avg_win_pips":    r.AvgWinPips,
		"avg_loss_pips":   r.AvgLossPips,
		"profit_factor":   r.ProfitFactor,
		"sharpe_ratio":    r.SharpeRatio,
		"max_drawdown":    r.MaxDrawdown,
		"expectancy":      r.Expectancy,
		"largest_win":     r.LargestWin.String(),
		"largest_loss":    r.LargestLoss.String(),
		"total_return":    r.TotalReturn,
		"final_balance":   r.FinalBalance.String(),
		"total_cost_pips": r.TotalCostPips,
		"no_trades":       r.NoTrades,
	}
}

// OptimizationWindow is one train/test split of a walk-forward run.
//
// Invariant: TrainEnd == TestStart, and test segments across a run are
// contiguous and non-overlapping.
type OptimizationWindow struct {
	TrainStart time.Time `json:"trainStart"`
	TrainEnd   time.Time `json:"trainEnd"`
	TestStart  time.Time `json:"testStart"`
	TestEnd    time.Time `json:"testEnd"`
}

// QuoteCurrency extracts the quote currency from an instrument like "EUR_USD".
func QuoteCurrency(instrument string) string {
	parts := strings.Split(instrument, "_")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// BaseCurrency extracts the base currency from an instrument like "EUR_USD".
func BaseCurrency(instrument string) string {
	parts := strings.Split(instrument, "_")
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

// PipSize returns the standardized pip increment for an instrument:
// 0.01 for JPY-quoted pairs, 0.0001 otherwise.
func PipSize(instrument string) decimal.Decimal {
	if QuoteCurrency(instrument) == "JPY" {
		return decimal.NewFromFloat(0.01)
	}
	return decimal.NewFromFloat(0.0001)
}
