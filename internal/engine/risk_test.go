package engine

import (
	"testing"

	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAuthorizeSizeRiskBound(t *testing.T) {
	rm := NewRiskManager(zap.NewNop(), types.RiskConfig{
		MaxLeverage:   20,
		MarginCeiling: 1.0,
		MarginRate:    0.01,
	})

	// $10,000 at 1% risk with a 20 pip stop and $0.0001/pip/unit:
	// 100 / (20 * 0.0001) = 50,000 units, well under the leverage cap.
	auth := rm.AuthorizeSize(decimal.NewFromInt(10000), decimal.NewFromInt(20), dec(0.0001), 1.0, dec(1.08))
	assert.Equal(t, int64(50000), auth.Units)
	assert.Equal(t, BoundRisk, auth.Binding)
}

func TestAuthorizeSizeLeverageBound(t *testing.T) {
	rm := NewRiskManager(zap.NewNop(), types.RiskConfig{
		MaxLeverage:   20,
		MarginCeiling: 1.0,
		MarginRate:    0.01,
	})

	// A 2 pip stop would allow 500,000 units on risk alone; notional is
	// capped at 20x balance: 200,000 / 1.08 = 185,185 units.
	auth := rm.AuthorizeSize(decimal.NewFromInt(10000), decimal.NewFromInt(2), dec(0.0001), 1.0, dec(1.08))
	assert.Equal(t, int64(185185), auth.Units)
	assert.Equal(t, BoundLeverage, auth.Binding)
}

func TestAuthorizeSizeMarginBound(t *testing.T) {
	rm := NewRiskManager(zap.NewNop(), types.RiskConfig{
		MaxLeverage:   100,
		MarginCeiling: 0.5,
		MarginRate:    0.05,
	})

	// Margin budget 5,000 at 5% margin per unit of notional:
	// 5,000 / (1.08 * 0.05) = 92,592 units, under both other bounds.
	auth := rm.AuthorizeSize(decimal.NewFromInt(10000), decimal.NewFromInt(2), dec(0.0001), 1.0, dec(1.08))
	assert.Equal(t, int64(92592), auth.Units)
	assert.Equal(t, BoundMargin, auth.Binding)
}

func TestAuthorizeSizeRejectsNonPositiveBalance(t *testing.T) {
	rm := NewRiskManager(zap.NewNop(), types.RiskConfig{MaxLeverage: 20, MarginCeiling: 0.5, MarginRate: 0.03})

	for _, balance := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-100)} {
		auth := rm.AuthorizeSize(balance, decimal.NewFromInt(20), dec(0.0001), 1.0, dec(1.08))
		assert.Zero(t, auth.Units)
		assert.Equal(t, BoundRejected, auth.Binding)
	}
}

func TestAuthorizeSizeRejectsZeroStop(t *testing.T) {
	rm := NewRiskManager(zap.NewNop(), types.RiskConfig{MaxLeverage: 20, MarginCeiling: 0.5, MarginRate: 0.03})
	auth := rm.AuthorizeSize(decimal.NewFromInt(10000), decimal.Zero, dec(0.0001), 1.0, dec(1.08))
	assert.Equal(t, BoundRejected, auth.Binding)
}
