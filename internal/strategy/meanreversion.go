package strategy

import (
	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

const rsiPeriod = 14

// MeanReversion trades RSI extremes with a dual moving average trend filter:
// buy oversold dips while the short average sits above the long one, sell
// overbought spikes in a downtrend. Stops are placed an ATR multiple away
// and targets at the configured reward:risk beyond the entry.
//
// The strategy is stateless across bars; everything it needs arrives in the
// history slice, which makes parameter sweeps trivially parallel.
type MeanReversion struct {
	params types.ParameterSet
}

// NewMeanReversion creates the strategy for one parameter set.
func NewMeanReversion(params types.ParameterSet) *MeanReversion {
	return &MeanReversion{params: params}
}

// Params returns the parameter set the strategy runs with.
func (s *MeanReversion) Params() types.ParameterSet { return s.params }

// WarmupBars reports the history needed before the first decision.
func (s *MeanReversion) WarmupBars() int {
	warmup := s.params.MALongPeriod
	if rsiPeriod+1 > warmup {
		warmup = rsiPeriod + 1
	}
	return warmup
}

// Decide emits at most one entry signal per bar, and none while a position
// is open.
func (s *MeanReversion) Decide(history []types.Bar, open []*types.Trade) *types.Signal {
	if len(open) > 0 || len(history) < s.WarmupBars() {
		return nil
	}
	current := &history[len(history)-1]

	rsi := RSI(history, rsiPeriod)
	maShort := SMA(history, s.params.MAShortPeriod)
	maLong := SMA(history, s.params.MALongPeriod)
	atr := ATR(history, rsiPeriod)
	if maShort.IsZero() || maLong.IsZero() || atr.IsZero() {
		return nil
	}

	stopDistance := atr.Mul(decimal.NewFromFloat(s.params.ATRMultiplier))
	targetDistance := stopDistance.Mul(decimal.NewFromFloat(s.params.RewardRisk))
	if stopDistance.IsZero() {
		return nil
	}

	uptrend := maShort.GreaterThan(maLong)

	if rsi <= float64(s.params.RSIOversold) && uptrend {
		entry := current.AskClose
		return &types.Signal{
			Direction:   types.DirectionBuy,
			StopPrice:   entry.Sub(stopDistance),
			TargetPrice: entry.Add(targetDistance),
		}
	}
	if rsi >= float64(s.params.RSIOverbought) && !uptrend {
		entry := current.BidClose
		return &types.Signal{
			Direction:   types.DirectionSell,
			StopPrice:   entry.Add(stopDistance),
			TargetPrice: entry.Sub(targetDistance),
		}
	}
	return nil
}
