package engine

import (
	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Bound names the constraint that ended up binding an authorization.
type Bound string

const (
	BoundRisk     Bound = "risk"
	BoundLeverage Bound = "leverage"
	BoundMargin   Bound = "margin"
	BoundRejected Bound = "rejected"
)

// Authorization is the result of a sizing request.
type Authorization struct {
	Units   int64
	Binding Bound
}

// RiskManager computes the maximum position size an account may take,
// bounded by risk budget, leverage ceiling and margin usage. It never
// returns an error for a valid request; a non-positive balance yields a
// zero-unit rejection.
type RiskManager struct {
	logger *zap.Logger
	cfg    types.RiskConfig
}

// NewRiskManager creates a risk manager over the risk configuration.
func NewRiskManager(logger *zap.Logger, cfg types.RiskConfig) *RiskManager {
	return &RiskManager{logger: logger, cfg: cfg}
}

// AuthorizeSize returns the largest position the three bounds allow:
//
//	risk:     (balance * riskPercent) / (stopPips * pipValuePerUnit)
//	leverage: units * price <= balance * maxLeverage
//	margin:   units * price * marginRate <= balance * marginCeiling
//
// The returned Authorization names whichever bound was most restrictive.
func (rm *RiskManager) AuthorizeSize(balance decimal.Decimal, stopPips decimal.Decimal, pipValuePerUnit decimal.Decimal, riskPercent float64, price decimal.Decimal) Authorization {
	if balance.LessThanOrEqual(decimal.Zero) {
		return Authorization{Units: 0, Binding: BoundRejected}
	}
	if stopPips.LessThanOrEqual(decimal.Zero) || pipValuePerUnit.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return Authorization{Units: 0, Binding: BoundRejected}
	}

	riskAmount := balance.Mul(decimal.NewFromFloat(riskPercent / 100))
	riskUnits := riskAmount.Div(stopPips.Mul(pipValuePerUnit))

	maxNotional := balance.Mul(decimal.NewFromFloat(rm.cfg.MaxLeverage))
	leverageUnits := maxNotional.Div(price)

	marginBudget := balance.Mul(decimal.NewFromFloat(rm.cfg.MarginCeiling))
	marginUnits := marginBudget.Div(price.Mul(decimal.NewFromFloat(rm.cfg.MarginRate)))

	units := riskUnits
	binding := BoundRisk
	if leverageUnits.LessThan(units) {
		units = leverageUnits
		binding = BoundLeverage
	}
	if marginUnits.LessThan(units) {
		units = marginUnits
		binding = BoundMargin
	}

	authorized := units.IntPart()
	if authorized <= 0 {
		return Authorization{Units: 0, Binding: BoundRejected}
	}

	rm.logger.Debug("sizing authorized",
		zap.Int64("units", authorized),
		zap.String("binding", string(binding)),
		zap.String("riskUnits", riskUnits.StringFixed(0)),
		zap.String("leverageUnits", leverageUnits.StringFixed(0)),
		zap.String("marginUnits", marginUnits.StringFixed(0)),
	)
	return Authorization{Units: authorized, Binding: binding}
}
