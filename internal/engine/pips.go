package engine

import (
	"errors"
	"fmt"

	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// ErrUnknownConversionPath indicates no direct, inverse or triangulated rate
// could convert the quote currency into the account currency. Callers must
// reject the trade rather than default to 1.0.
var ErrUnknownConversionPath = errors.New("unknown currency conversion path")

// RateTable maps "XXX_YYY" instrument names to exchange rates, used to
// convert pip values between currencies.
type RateTable map[string]decimal.Decimal

// PipValuer converts a one-pip move into account-currency value.
type PipValuer struct {
	accountCurrency string
}

// NewPipValuer creates a calculator for an account denominated in currency.
func NewPipValuer(accountCurrency string) *PipValuer {
	return &PipValuer{accountCurrency: accountCurrency}
}

// PipValue returns the account-currency value of a one-pip move for a
// position of the given size.
//
// Quote == account: pipSize * units. Base == account: pipSize / rate * units.
// Cross pairs convert through the rate table, directly, by inversion, or by
// triangulating through USD.
func (pv *PipValuer) PipValue(instrument string, units int64, referenceRate decimal.Decimal, rates RateTable) (decimal.Decimal, error) {
	base := types.BaseCurrency(instrument)
	quote := types.QuoteCurrency(instrument)
	if base == "" || quote == "" {
		return decimal.Zero, fmt.Errorf("invalid instrument format: %s", instrument)
	}

	pipSize := types.PipSize(instrument)
	size := decimal.NewFromInt(abs64(units))
	valueInQuote := pipSize.Mul(size)

	if quote == pv.accountCurrency {
		return valueInQuote, nil
	}

	if base == pv.accountCurrency {
		if referenceRate.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: %s needs a reference rate", ErrUnknownConversionPath, instrument)
		}
		return valueInQuote.Div(referenceRate), nil
	}

	rate, err := pv.conversionRate(quote, pv.accountCurrency, rates)
	if err != nil {
		return decimal.Zero, err
	}
	return valueInQuote.Mul(rate), nil
}

// conversionRate resolves from -> to using a direct pair, the inverse pair,
// or triangulation through USD.
func (pv *PipValuer) conversionRate(from, to string, rates RateTable) (decimal.Decimal, error) {
	if r, ok := rates[from+"_"+to]; ok && !r.IsZero() {
		return r, nil
	}
	if r, ok := rates[to+"_"+from]; ok && !r.IsZero() {
		return decimal.NewFromInt(1).Div(r), nil
	}

	// Triangulate through USD: from -> USD -> to.
	if from != "USD" && to != "USD" {
		leg1, err1 := pv.directOrInverse(from, "USD", rates)
		leg2, err2 := pv.directOrInverse("USD", to, rates)
		if err1 == nil && err2 == nil {
			return leg1.Mul(leg2), nil
		}
	}

	return decimal.Zero, fmt.Errorf("%w: %s to %s", ErrUnknownConversionPath, from, to)
}

func (pv *PipValuer) directOrInverse(from, to string, rates RateTable) (decimal.Decimal, error) {
	if r, ok := rates[from+"_"+to]; ok && !r.IsZero() {
		return r, nil
	}
	if r, ok := rates[to+"_"+from]; ok && !r.IsZero() {
		return decimal.NewFromInt(1).Div(r), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s to %s", ErrUnknownConversionPath, from, to)
}

// PipsBetween converts a signed price move into pips for the instrument,
// positive when the move favors the given direction.
func PipsBetween(instrument string, direction types.Direction, entry, exit decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	if direction == types.DirectionSell {
		diff = diff.Neg()
	}
	return diff.Div(types.PipSize(instrument))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
