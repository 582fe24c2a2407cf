package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfx/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// Strategy is the decision callback the runner invokes once per bar. The
// engine never inspects how the decision was made; a nil return means no
// entry at this bar.
type Strategy interface {
	// WarmupBars is how much history the strategy needs before it can decide.
	WarmupBars() int
	// Decide receives the bars seen so far (current bar last), plus the
	// currently open positions.
	Decide(history []types.Bar, open []*types.Trade) *types.Signal
}

// NewsCalendar reports whether a timestamp falls inside a flagged news
// window. A nil calendar means no news anywhere.
type NewsCalendar func(t time.Time) bool

// RunResult is the full output of one simulation run.
type RunResult struct {
	Report          types.PerformanceReport `json:"report"`
	Trades          []types.ClosedTrade     `json:"trades"`
	Equity          []types.EquityPoint     `json:"equity"`
	RejectedSignals int                     `json:"rejectedSignals"`
	Bars            int                     `json:"bars"`
}

// Runner drives a single chronological simulation pass over a bar series.
// It is deliberately single threaded: bars are processed strictly in order
// against one broker, so two runs over the same inputs produce identical
// trade ledgers. Parallelism belongs a level up, across independent runs.
type Runner struct {
	logger *zap.Logger
	cfg    *types.Config
	rates  RateTable
	news   NewsCalendar
}

// NewRunner creates a runner. rates is the conversion table used for pip
// valuation; news may be nil.
func NewRunner(logger *zap.Logger, cfg *types.Config, rates RateTable, news NewsCalendar) *Runner {
	return &Runner{logger: logger, cfg: cfg, rates: rates, news: news}
}

// Run simulates the strategy over bars and returns the performance report,
// trade ledger and equity curve.
//
// Bars must be chronological for a single instrument. A bar with ask below
// bid, or a timestamp at or before its predecessor, aborts the run: silently
// absorbing corrupt input would poison every downstream number. Any trade
// still open after the final bar is force-closed there so the report always
// reflects a flat book.
func (r *Runner) Run(ctx context.Context, bars []types.Bar, strat Strategy) (*RunResult, error) {
	if len(bars) == 0 {
		report := Analyze(nil, nil, r.cfg.InitialBalance)
		return &RunResult{Report: report}, nil
	}

	broker := NewBroker(r.logger, r.cfg, r.rates)
	equity := make([]types.EquityPoint, 0, len(bars))
	warmup := strat.WarmupBars()

	var prev time.Time
	for i := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := &bars[i]

		if err := bar.Validate(); err != nil {
			return nil, err
		}
		if i > 0 && !bar.Timestamp.After(prev) {
			return nil, fmt.Errorf("%w: non-monotonic timestamp %s at index %d",
				types.ErrInvalidBar, bar.Timestamp.Format(time.RFC3339), i)
		}
		prev = bar.Timestamp

		session := types.SessionAt(bar.Timestamp)
		isNews := r.news != nil && r.news(bar.Timestamp)

		// Exits before entries: a position cannot close and reopen on the
		// same bar it was entered.
		broker.MarkToMarket(bar, session, isNews)

		if i >= warmup {
			if signal := strat.Decide(bars[:i+1], broker.OpenTrades()); signal != nil {
				if _, err := broker.Open(signal, bar, session, isNews); err != nil {
					r.logger.Warn("entry rejected", zap.Error(err),
						zap.String("instrument", bar.Instrument))
				}
			}
		}

		equity = append(equity, types.EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    broker.Equity(bar),
			Balance:   broker.Balance(),
		})
	}

	last := &bars[len(bars)-1]
	broker.CloseAll(last, types.SessionAt(last.Timestamp))

	trades := broker.ClosedTrades()
	report := Analyze(trades, equity, r.cfg.InitialBalance)

	r.logger.Info("run complete",
		zap.String("instrument", last.Instrument),
		zap.Int("bars", len(bars)),
		zap.Int("trades", report.TotalTrades),
		zap.String("finalBalance", broker.Balance().StringFixed(2)),
	)
	return &RunResult{
		Report:          report,
		Trades:          trades,
		Equity:          equity,
		RejectedSignals: broker.RejectedSignals(),
		Bars:            len(bars),
	}, nil
}
