package data

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAssessCleanSeries(t *testing.T) {
	v := NewQualityValidator(zap.NewNop())
	bars := hourlyBars(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 20)

	report := v.Assess("EUR_USD", bars)
	assert.Equal(t, 100, report.Score)
	assert.Empty(t, report.Issues)
	assert.True(t, report.Usable())
}

func TestAssessFlagsPriceJump(t *testing.T) {
	v := NewQualityValidator(zap.NewNop())
	bars := hourlyBars(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 5)
	spike := decimal.NewFromFloat(1.20) // ~11% above 1.08
	bars[3].BidClose = spike
	bars[3].AskClose = spike

	report := v.Assess("EUR_USD", bars)
	require.NotEmpty(t, report.Issues)
	found := false
	for _, issue := range report.Issues {
		if issue.Type == "price_jump" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAssessFlagsWideSpread(t *testing.T) {
	v := NewQualityValidator(zap.NewNop())
	bars := hourlyBars(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), 3)
	bars[1].AskClose = bars[1].BidClose.Add(decimal.NewFromFloat(0.02)) // ~185 pips

	report := v.Assess("EUR_USD", bars)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, "wide_spread", report.Issues[0].Type)
}

func TestAssessEmptySeriesUnusable(t *testing.T) {
	v := NewQualityValidator(zap.NewNop())
	report := v.Assess("EUR_USD", nil)
	assert.False(t, report.Usable())
}
