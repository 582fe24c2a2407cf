package engine

import (
	"testing"

	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipValueQuoteIsAccountCurrency(t *testing.T) {
	pv := NewPipValuer("USD")
	// EUR_USD quoted in USD: one pip on 10,000 units is exactly $1.
	v, err := pv.PipValue("EUR_USD", 10000, dec(1.08), nil)
	require.NoError(t, err)
	assert.True(t, v.Equal(dec(1.0)), "got %s", v)
}

func TestPipValueBaseIsAccountCurrency(t *testing.T) {
	pv := NewPipValuer("USD")
	// USD_JPY at 151: pip size 0.01, value = 0.01/151 per unit.
	v, err := pv.PipValue("USD_JPY", 10000, dec(151.0), nil)
	require.NoError(t, err)
	expected := dec(0.01).Mul(dec(10000)).Div(dec(151.0))
	assert.True(t, v.Equal(expected), "got %s want %s", v, expected)
}

func TestPipValueCrossViaDirectRate(t *testing.T) {
	pv := NewPipValuer("USD")
	rates := RateTable{"GBP_USD": dec(1.27)}
	// EUR_GBP quoted in GBP, converted via GBP_USD.
	v, err := pv.PipValue("EUR_GBP", 10000, dec(0.85), rates)
	require.NoError(t, err)
	expected := dec(0.0001).Mul(dec(10000)).Mul(dec(1.27))
	assert.True(t, v.Equal(expected), "got %s want %s", v, expected)
}

func TestPipValueCrossViaInverseRate(t *testing.T) {
	pv := NewPipValuer("USD")
	rates := RateTable{"USD_CHF": dec(0.90)}
	v, err := pv.PipValue("EUR_CHF", 10000, dec(0.95), rates)
	require.NoError(t, err)
	expected := dec(0.0001).Mul(dec(10000)).Div(dec(0.90))
	assert.True(t, v.Equal(expected), "got %s want %s", v, expected)
}

func TestPipValueTriangulatesThroughUSD(t *testing.T) {
	pv := NewPipValuer("CHF")
	rates := RateTable{
		"GBP_USD": dec(1.27),
		"USD_CHF": dec(0.90),
	}
	// EUR_GBP with a CHF account: GBP -> USD -> CHF.
	v, err := pv.PipValue("EUR_GBP", 1, dec(0.85), rates)
	require.NoError(t, err)
	expected := dec(0.0001).Mul(dec(1.27)).Mul(dec(0.90))
	assert.True(t, v.Equal(expected), "got %s want %s", v, expected)
}

func TestPipValueUnknownPathIsError(t *testing.T) {
	pv := NewPipValuer("USD")
	_, err := pv.PipValue("EUR_NOK", 10000, dec(11.5), RateTable{})
	require.ErrorIs(t, err, ErrUnknownConversionPath)
}

func TestPipSizeJPYQuoted(t *testing.T) {
	assert.True(t, types.PipSize("USD_JPY").Equal(dec(0.01)))
	assert.True(t, types.PipSize("EUR_USD").Equal(dec(0.0001)))
}

func TestPipsBetweenSigns(t *testing.T) {
	up := PipsBetween("EUR_USD", types.DirectionBuy, dec(1.0800), dec(1.0820))
	assert.True(t, up.Equal(decimal.NewFromInt(20)), "got %s", up)

	down := PipsBetween("EUR_USD", types.DirectionSell, dec(1.0800), dec(1.0820))
	assert.True(t, down.Equal(decimal.NewFromInt(-20)), "got %s", down)

	shortWin := PipsBetween("EUR_USD", types.DirectionSell, dec(1.0820), dec(1.0800))
	assert.True(t, shortWin.Equal(decimal.NewFromInt(20)), "got %s", shortWin)
}
