package engine

import (
	"testing"
	"time"

	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCostForDeterministic(t *testing.T) {
	model := NewCostModel(testConfig())
	bar := mkBarSpread(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), 1.0800, 0.0002)

	a := model.CostFor(&bar, types.SessionLondon, false, 0, types.DirectionBuy)
	b := model.CostFor(&bar, types.SessionLondon, false, 0, types.DirectionBuy)
	assert.True(t, a.EntryCostPips.Equal(b.EntryCostPips))
	assert.True(t, a.ExitCostPips.Equal(b.ExitCostPips))
}

func TestCostForSessionWidensSpread(t *testing.T) {
	model := NewCostModel(testConfig())
	bar := mkBarSpread(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), 1.0800, 0.0002)

	london := model.CostFor(&bar, types.SessionLondon, false, 0, types.DirectionBuy)
	rollover := model.CostFor(&bar, types.SessionRollover, false, 0, types.DirectionBuy)

	// Rollover multiplier is 2.0 against London's 1.0.
	assert.True(t, rollover.SpreadPips.Equal(london.SpreadPips.Mul(decimal.NewFromInt(2))),
		"rollover %s london %s", rollover.SpreadPips, london.SpreadPips)
}

func TestCostForNewsDoublesSlippage(t *testing.T) {
	model := NewCostModel(testConfig())
	bar := mkBarSpread(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), 1.0800, 0.0002)

	quiet := model.CostFor(&bar, types.SessionLondon, false, 0, types.DirectionBuy)
	news := model.CostFor(&bar, types.SessionLondon, true, 0, types.DirectionBuy)

	assert.True(t, news.SlippagePips.Equal(quiet.SlippagePips.Mul(decimal.NewFromInt(2))))
	assert.True(t, news.SpreadPips.Equal(quiet.SpreadPips), "news must not change the spread itself")
}

func TestCostForSwapScalesWithHoldingDays(t *testing.T) {
	model := NewCostModel(testConfig())
	bar := mkBarSpread(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), 1.0800, 0.0002)

	oneDay := model.CostFor(&bar, types.SessionLondon, false, 1, types.DirectionBuy)
	threeDays := model.CostFor(&bar, types.SessionLondon, false, 3, types.DirectionBuy)
	assert.True(t, threeDays.SwapPips.Equal(oneDay.SwapPips.Mul(decimal.NewFromInt(3))))

	// EUR_USD long swap is a debit, so the cost is positive.
	assert.True(t, oneDay.SwapPips.GreaterThan(decimal.Zero))

	intraday := model.CostFor(&bar, types.SessionLondon, false, 0, types.DirectionBuy)
	assert.True(t, intraday.SwapPips.IsZero())
}

func TestCostForDirectionSelectsSwapRate(t *testing.T) {
	model := NewCostModel(testConfig())
	bar := mkBarSpread(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), 1.0800, 0.0002)

	long := model.CostFor(&bar, types.SessionLondon, false, 1, types.DirectionBuy)
	short := model.CostFor(&bar, types.SessionLondon, false, 1, types.DirectionSell)

	// EUR_USD: long pays (-0.5/day), short earns (+0.2/day).
	assert.True(t, long.SwapPips.GreaterThan(decimal.Zero))
	assert.True(t, short.SwapPips.LessThan(decimal.Zero))
}
