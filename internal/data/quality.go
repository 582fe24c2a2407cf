package data

import (
	"fmt"
	"time"

	"github.com/quantfx/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

// QualityIssue flags one suspicious bar in a fetched series.
type QualityIssue struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	BarIndex  int       `json:"barIndex"`
	Message   string    `json:"message"`
}

// QualityReport summarizes integrity checks over a bar series. Issues here
// are advisory; hard failures (inverted bid/ask, gaps beyond tolerance) are
// rejected earlier in the pipeline.
type QualityReport struct {
	Instrument string         `json:"instrument"`
	TotalBars  int            `json:"totalBars"`
	Issues     []QualityIssue `json:"issues"`
	Score      int            `json:"score"` // 0-100
}

// Usable reports whether the series is clean enough to simulate against.
func (r *QualityReport) Usable() bool { return r.Score >= 60 }

// QualityValidator screens fetched bars for anomalies that pass structural
// validation but would still distort a backtest: extreme single-bar moves,
// abnormal spreads and empty candles.
type QualityValidator struct {
	logger *zap.Logger

	// MaxBarMove is the largest tolerated close-to-close move, as a fraction.
	MaxBarMove float64
	// MaxSpreadFrac is the widest tolerated spread relative to the mid price.
	MaxSpreadFrac float64
}

// NewQualityValidator returns a validator with thresholds suited to major
// currency pairs.
func NewQualityValidator(logger *zap.Logger) *QualityValidator {
	return &QualityValidator{
		logger:        logger,
		MaxBarMove:    0.03,
		MaxSpreadFrac: 0.005,
	}
}

// Assess scans the series and scores it. The score starts at 100 and loses
// points per issue, floored at zero.
func (v *QualityValidator) Assess(instrument string, bars []types.Bar) *QualityReport {
	report := &QualityReport{
		Instrument: instrument,
		TotalBars:  len(bars),
		Score:      100,
	}
	if len(bars) == 0 {
		report.Score = 0
		return report
	}

	for i := range bars {
		bar := &bars[i]
		mid := bar.MidClose()
		if mid.IsZero() {
			report.add(QualityIssue{
				Type: "empty_bar", Timestamp: bar.Timestamp, BarIndex: i,
				Message: "zero price",
			})
			continue
		}

		spreadFrac, _ := bar.Spread().Div(mid).Float64()
		if spreadFrac > v.MaxSpreadFrac {
			report.add(QualityIssue{
				Type: "wide_spread", Timestamp: bar.Timestamp, BarIndex: i,
				Message: fmt.Sprintf("spread is %.4f of mid", spreadFrac),
			})
		}

		if i > 0 {
			prev := bars[i-1].MidClose()
			if !prev.IsZero() {
				move, _ := mid.Sub(prev).Div(prev).Abs().Float64()
				if move > v.MaxBarMove {
					report.add(QualityIssue{
						Type: "price_jump", Timestamp: bar.Timestamp, BarIndex: i,
						Message: fmt.Sprintf("close moved %.2f%% in one bar", move*100),
					})
				}
			}
		}

		if bar.BidHigh.LessThan(bar.BidLow) || bar.AskHigh.LessThan(bar.AskLow) {
			report.add(QualityIssue{
				Type: "inverted_range", Timestamp: bar.Timestamp, BarIndex: i,
				Message: "high below low",
			})
		}
	}

	if len(report.Issues) > 0 {
		v.logger.Warn("data quality issues found",
			zap.String("instrument", instrument),
			zap.Int("issues", len(report.Issues)),
			zap.Int("score", report.Score),
		)
	}
	return report
}

func (r *QualityReport) add(issue QualityIssue) {
	r.Issues = append(r.Issues, issue)
	r.Score -= 5
	if r.Score < 0 {
		r.Score = 0
	}
}
