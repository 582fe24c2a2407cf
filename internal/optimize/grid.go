// Package optimize implements grid search and walk-forward validation of
// strategy parameters.
package optimize

import (
	"github.com/quantfx/backtest-engine/pkg/types"
)

// Grid declares the candidate values per parameter dimension. Empty
// dimensions fall back to a single default so a sparse grid stays usable.
type Grid struct {
	RSIOversold   []int     `json:"rsiOversold"`
	RSIOverbought []int     `json:"rsiOverbought"`
	MAShortPeriod []int     `json:"maShortPeriod"`
	MALongPeriod  []int     `json:"maLongPeriod"`
	RewardRisk    []float64 `json:"rewardRisk"`
	ATRMultiplier []float64 `json:"atrMultiplier"`
	RiskPercent   []float64 `json:"riskPercent"`
}

// DefaultGrid returns the standard search space.
func DefaultGrid() Grid {
	return Grid{
		RSIOversold:   []int{25, 30, 35},
		RSIOverbought: []int{65, 70, 75},
		MAShortPeriod: []int{10},
		MALongPeriod:  []int{50},
		RewardRisk:    []float64{2.0},
		ATRMultiplier: []float64{1.5},
		RiskPercent:   []float64{1.0},
	}
}

// Expand returns the cartesian product of all dimensions, dropping
// structurally invalid combinations (oversold >= overbought, short MA >=
// long MA). Order is deterministic, iterating dimensions outer to inner as
// declared.
func (g Grid) Expand() []types.ParameterSet {
	var out []types.ParameterSet
	for _, oversold := range intsOr(g.RSIOversold, 30) {
		for _, overbought := range intsOr(g.RSIOverbought, 70) {
			for _, maShort := range intsOr(g.MAShortPeriod, 10) {
				for _, maLong := range intsOr(g.MALongPeriod, 50) {
					for _, rr := range floatsOr(g.RewardRisk, 2.0) {
						for _, atr := range floatsOr(g.ATRMultiplier, 1.5) {
							for _, risk := range floatsOr(g.RiskPercent, 1.0) {
								p := types.ParameterSet{
									RSIOversold:   oversold,
									RSIOverbought: overbought,
									MAShortPeriod: maShort,
									MALongPeriod:  maLong,
									RewardRisk:    rr,
									ATRMultiplier: atr,
									RiskPercent:   risk,
								}
								if p.Valid() {
									out = append(out, p)
								}
							}
						}
					}
				}
			}
		}
	}
	return out
}

func intsOr(vs []int, def int) []int {
	if len(vs) == 0 {
		return []int{def}
	}
	return vs
}

func floatsOr(vs []float64, def float64) []float64 {
	if len(vs) == 0 {
		return []float64{def}
	}
	return vs
}
