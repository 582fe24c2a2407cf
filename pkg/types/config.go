// Package types provides configuration types for the backtesting engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session labels the liquidity regime a bar falls into. Spreads widen in
// low-liquidity sessions, so the cost model scales by session.
type Session string

const (
	SessionAsian    Session = "asian"
	SessionLondon   Session = "london"
	SessionNewYork  Session = "newyork"
	SessionRollover Session = "rollover"
)

// InstrumentCosts is the per-instrument cost/swap table. Spread comes from
// the bar itself; these fields govern slippage and overnight financing.
type InstrumentCosts struct {
	Instrument    string          `json:"instrument" mapstructure:"instrument"`
	SlippageFrac  decimal.Decimal `json:"slippageFrac" mapstructure:"slippage_frac"`    // fraction of spread
	SwapLongPips  decimal.Decimal `json:"swapLongPips" mapstructure:"swap_long_pips"`   // per day
	SwapShortPips decimal.Decimal `json:"swapShortPips" mapstructure:"swap_short_pips"` // per day
}

// RiskConfig bounds position sizing.
type RiskConfig struct {
	RiskPercent    float64 `json:"riskPercent" mapstructure:"risk_percent"`         // % of balance risked per trade
	MaxLeverage    float64 `json:"maxLeverage" mapstructure:"max_leverage"`         // notional / balance ceiling
	MarginCeiling  float64 `json:"marginCeiling" mapstructure:"margin_ceiling"`     // fraction of balance usable as margin
	MarginRate     float64 `json:"marginRate" mapstructure:"margin_rate"`           // margin required per unit of notional
	MaxOpenTrades  int     `json:"maxOpenTrades" mapstructure:"max_open_trades"`
}

// DataConfig governs historical data fetching.
type DataConfig struct {
	ChunkSize    int           `json:"chunkSize" mapstructure:"chunk_size"`       // provider-imposed bars per request
	GapTolerance time.Duration `json:"gapTolerance" mapstructure:"gap_tolerance"` // max permissible gap between bars
}

// WalkForwardConfig carries walk-forward optimization defaults.
type WalkForwardConfig struct {
	Windows          int     `json:"windows" mapstructure:"windows"`
	TrainFraction    float64 `json:"trainFraction" mapstructure:"train_fraction"`        // in-sample share of each window
	OverfitRatio     float64 `json:"overfitRatio" mapstructure:"overfit_ratio"`          // OOS/IS below this flags overfitting
	Workers          int     `json:"workers" mapstructure:"workers"`
	EvaluationBudget int     `json:"evaluationBudget" mapstructure:"evaluation_budget"`  // 0 = unlimited
}

// Config is the single immutable configuration object injected at
// construction time. No component reads runtime policy from anywhere else.
type Config struct {
	AccountCurrency    string                     `json:"accountCurrency" mapstructure:"account_currency"`
	InitialBalance     decimal.Decimal            `json:"initialBalance" mapstructure:"initial_balance"`
	Risk               RiskConfig                 `json:"risk" mapstructure:"risk"`
	Data               DataConfig                 `json:"data" mapstructure:"data"`
	WalkForward        WalkForwardConfig          `json:"walkForward" mapstructure:"walk_forward"`
	SessionMultipliers map[Session]float64        `json:"sessionMultipliers" mapstructure:"session_multipliers"`
	InstrumentCosts    map[string]InstrumentCosts `json:"instrumentCosts" mapstructure:"instrument_costs"`
	MaxHoldingBars     int                        `json:"maxHoldingBars" mapstructure:"max_holding_bars"`
	// Rates converts cross-pair pip values into the account currency. Static
	// per run so results stay reproducible.
	Rates map[string]float64 `json:"rates" mapstructure:"rates"`
}

// DefaultConfig returns a configuration with conservative defaults for the
// major pairs. Callers typically start here and override via file/env.
func DefaultConfig() Config {
	return Config{
		AccountCurrency: "USD",
		InitialBalance:  decimal.NewFromInt(10000),
		Risk: RiskConfig{
			RiskPercent:   1.0,
			MaxLeverage:   20.0,
			MarginCeiling: 0.5,
			MarginRate:    0.03333,
			MaxOpenTrades: 3,
		},
		Data: DataConfig{
			ChunkSize:    5000,
			GapTolerance: 72 * time.Hour, // weekends close the market
		},
		WalkForward: WalkForwardConfig{
			Windows:       4,
			TrainFraction: 0.7,
			OverfitRatio:  0.5,
			Workers:       4,
		},
		SessionMultipliers: map[Session]float64{
			SessionAsian:    1.4,
			SessionLondon:   1.0,
			SessionNewYork:  1.0,
			SessionRollover: 2.0,
		},
		InstrumentCosts: map[string]InstrumentCosts{
			"EUR_USD": {
				Instrument:    "EUR_USD",
				SlippageFrac:  decimal.NewFromFloat(0.5),
				SwapLongPips:  decimal.NewFromFloat(-0.5),
				SwapShortPips: decimal.NewFromFloat(0.2),
			},
			"GBP_USD": {
				Instrument:    "GBP_USD",
				SlippageFrac:  decimal.NewFromFloat(0.6),
				SwapLongPips:  decimal.NewFromFloat(-0.6),
				SwapShortPips: decimal.NewFromFloat(0.25),
			},
			"USD_JPY": {
				Instrument:    "USD_JPY",
				SlippageFrac:  decimal.NewFromFloat(0.5),
				SwapLongPips:  decimal.NewFromFloat(-0.3),
				SwapShortPips: decimal.NewFromFloat(-0.1),
			},
			"AUD_USD": {
				Instrument:    "AUD_USD",
				SlippageFrac:  decimal.NewFromFloat(0.6),
				SwapLongPips:  decimal.NewFromFloat(-0.4),
				SwapShortPips: decimal.NewFromFloat(0.15),
			},
			"EUR_GBP": {
				Instrument:    "EUR_GBP",
				SlippageFrac:  decimal.NewFromFloat(0.8),
				SwapLongPips:  decimal.NewFromFloat(-0.55),
				SwapShortPips: decimal.NewFromFloat(0.22),
			},
		},
		MaxHoldingBars: 100,
		Rates: map[string]float64{
			"EUR_USD": 1.08,
			"GBP_USD": 1.27,
			"USD_JPY": 151.0,
			"AUD_USD": 0.66,
		},
	}
}

// CostsFor returns the cost table entry for an instrument, falling back to
// EUR_USD when the instrument has no profile.
func (c *Config) CostsFor(instrument string) InstrumentCosts {
	if p, ok := c.InstrumentCosts[instrument]; ok {
		return p
	}
	return c.InstrumentCosts["EUR_USD"]
}

// SessionMultiplier returns the spread multiplier for a session, defaulting
// to 1.0 for unknown sessions.
func (c *Config) SessionMultiplier(s Session) float64 {
	if m, ok := c.SessionMultipliers[s]; ok {
		return m
	}
	return 1.0
}

// SessionAt classifies a UTC timestamp into a trading session.
func SessionAt(t time.Time) Session {
	h := t.UTC().Hour()
	switch {
	case h >= 21 || h < 1:
		return SessionRollover
	case h >= 1 && h < 7:
		return SessionAsian
	case h >= 7 && h < 13:
		return SessionLondon
	default:
		return SessionNewYork
	}
}
