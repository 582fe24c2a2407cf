package optimize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/quantfx/backtest-engine/internal/data"
	"github.com/quantfx/backtest-engine/internal/engine"
	"github.com/quantfx/backtest-engine/internal/metrics"
	"github.com/quantfx/backtest-engine/internal/strategy"
	"github.com/quantfx/backtest-engine/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WindowResult is the outcome of one walk-forward window: the in-sample
// winner and how it held up out of sample.
type WindowResult struct {
	Window      types.OptimizationWindow `json:"window"`
	BestParams  types.ParameterSet       `json:"bestParams"`
	TrainReport types.PerformanceReport  `json:"trainReport"`
	TestReport  types.PerformanceReport  `json:"testReport"`
	Evaluations int                      `json:"evaluations"`
	Overfit     bool                     `json:"overfit"`
}

// Result aggregates a full walk-forward run.
//
// OverfitWarning is advisory: it flags that out-of-sample performance decayed
// below the configured fraction of in-sample performance, it does not fail
// the run.
//
// Truncated means the evaluation budget ran out before the sweep finished.
// Windows abandoned without a single evaluation are excluded from Windows
// and from the aggregates; everything completed up to that point stands.
type Result struct {
	Windows         []WindowResult `json:"windows"`
	Evaluations     int            `json:"evaluations"`
	MeanTrainReturn float64        `json:"meanTrainReturn"`
	MeanTestReturn  float64        `json:"meanTestReturn"`
	TestReturnStdev float64        `json:"testReturnStdev"`
	OverfitWarning  bool           `json:"overfitWarning"`
	Truncated       bool           `json:"truncated"`
}

// WalkForward validates strategy parameters by repeatedly optimizing on a
// training segment and measuring the winner on the unseen test segment that
// follows it. Test segments tile the evaluated period without overlap, so
// the aggregate out-of-sample record is an honest estimate of live behavior.
type WalkForward struct {
	logger *zap.Logger
	cfg    *types.Config
	rates  engine.RateTable
	news   engine.NewsCalendar
}

// NewWalkForward creates an optimizer. rates and news are passed through to
// every simulation run.
func NewWalkForward(logger *zap.Logger, cfg *types.Config, rates engine.RateTable, news engine.NewsCalendar) *WalkForward {
	return &WalkForward{logger: logger, cfg: cfg, rates: rates, news: news}
}

// Windows splits [start, end) into the configured number of walk-forward
// windows. Each window trains on its leading fraction and tests on the
// remainder; a window's TrainEnd equals its TestStart, and successive test
// segments are contiguous, together covering everything after the first
// training segment.
func (wf *WalkForward) Windows(start, end time.Time) ([]types.OptimizationWindow, error) {
	n := wf.cfg.WalkForward.Windows
	frac := wf.cfg.WalkForward.TrainFraction
	if n < 1 {
		return nil, fmt.Errorf("window count %d must be at least 1", n)
	}
	if frac <= 0 || frac >= 1 {
		return nil, fmt.Errorf("train fraction %.2f must be in (0, 1)", frac)
	}
	span := end.Sub(start)
	if span <= 0 {
		return nil, fmt.Errorf("empty period %s..%s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	// trainLen = testLen * frac/(1-frac); n test segments plus one training
	// segment fill the span exactly.
	ratio := frac / (1 - frac)
	testLen := time.Duration(float64(span) / (float64(n) + ratio))
	trainLen := time.Duration(float64(testLen) * ratio)

	windows := make([]types.OptimizationWindow, 0, n)
	for i := 0; i < n; i++ {
		trainStart := start.Add(time.Duration(i) * testLen)
		trainEnd := trainStart.Add(trainLen)
		testEnd := trainEnd.Add(testLen)
		if i == n-1 {
			testEnd = end // absorb rounding in the final window
		}
		windows = append(windows, types.OptimizationWindow{
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
		})
	}
	return windows, nil
}

// Optimize runs the full walk-forward procedure over a cached bar series.
// For each window it grid-searches the training segment in parallel, then
// validates the in-sample winner on the test segment.
//
// A window that cannot produce a result (empty segment, every candidate
// failing, a spent budget) is dropped from the result rather than failing
// the sweep; the surviving windows are aggregated as usual.
func (wf *WalkForward) Optimize(ctx context.Context, bars []types.Bar, grid Grid, start, end time.Time) (*Result, error) {
	windows, err := wf.Windows(start, end)
	if err != nil {
		return nil, err
	}
	candidates := grid.Expand()
	if len(candidates) == 0 {
		return nil, errors.New("parameter grid is empty after validity filtering")
	}

	budget := int64(wf.cfg.WalkForward.EvaluationBudget)
	var spent atomic.Int64
	result := &Result{}

	for _, window := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if budget > 0 && spent.Load() >= budget {
			result.Truncated = true
			wf.logger.Warn("evaluation budget spent, truncating sweep",
				zap.Int("windowsDone", len(result.Windows)),
				zap.Int64("budget", budget),
			)
			break
		}
		wr, truncated := wf.runWindow(ctx, bars, candidates, window, &spent)
		if truncated {
			result.Truncated = true
		}
		if wr == nil {
			continue
		}
		result.Windows = append(result.Windows, *wr)
		result.Evaluations += wr.Evaluations
	}

	wf.aggregate(result)
	wf.logger.Info("walk-forward complete",
		zap.Int("windows", len(result.Windows)),
		zap.Int("evaluations", result.Evaluations),
		zap.Float64("meanTestReturn", result.MeanTestReturn),
		zap.Bool("overfitWarning", result.OverfitWarning),
		zap.Bool("truncated", result.Truncated),
	)
	return result, nil
}

// runWindow returns nil when the window produced no usable result. The bool
// reports whether the evaluation budget cut the window's search short.
func (wf *WalkForward) runWindow(ctx context.Context, bars []types.Bar, candidates []types.ParameterSet, window types.OptimizationWindow, spent *atomic.Int64) (*WindowResult, bool) {
	train := data.Slice(bars, window.TrainStart, window.TrainEnd)
	test := data.Slice(bars, window.TestStart, window.TestEnd)
	if len(train) == 0 || len(test) == 0 {
		wf.logger.Warn("skipping window with empty segment",
			zap.Time("trainStart", window.TrainStart),
			zap.Time("testEnd", window.TestEnd),
		)
		return nil, false
	}

	reports := make([]*types.PerformanceReport, len(candidates))
	budget := int64(wf.cfg.WalkForward.EvaluationBudget)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(wf.workers())
	evaluated := 0
	truncated := false
	for i, params := range candidates {
		if budget > 0 && spent.Add(1) > budget {
			spent.Add(-1)
			truncated = true
			break
		}
		evaluated++
		i, params := i, params
		g.Go(func() error {
			report, err := wf.evaluate(gctx, train, params)
			if err != nil {
				// One bad candidate does not sink the window.
				wf.logger.Warn("candidate evaluation failed",
					zap.String("params", params.Key()), zap.Error(err))
				return nil
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()
	if evaluated == 0 {
		return nil, true
	}

	// Deterministic reduction: first strictly-better candidate wins, so grid
	// order breaks ties.
	bestIdx := -1
	for i, r := range reports {
		if r == nil {
			continue
		}
		if bestIdx == -1 || score(r) > score(reports[bestIdx]) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		wf.logger.Warn("skipping window, every candidate failed",
			zap.Time("trainStart", window.TrainStart))
		return nil, truncated
	}
	best := candidates[bestIdx]
	trainReport := *reports[bestIdx]

	testReport, err := wf.evaluate(ctx, test, best)
	if err != nil {
		wf.logger.Warn("skipping window, out-of-sample validation failed",
			zap.String("params", best.Key()), zap.Error(err))
		return nil, truncated
	}

	wr := &WindowResult{
		Window:      window,
		BestParams:  best,
		TrainReport: trainReport,
		TestReport:  *testReport,
		Evaluations: evaluated + 1,
		Overfit:     wf.isOverfit(trainReport.TotalReturn, testReport.TotalReturn),
	}
	if wr.Overfit {
		metrics.OverfitWindows.Inc()
		wf.logger.Warn("window flagged overfit",
			zap.String("params", best.Key()),
			zap.Float64("trainReturn", trainReport.TotalReturn),
			zap.Float64("testReturn", testReport.TotalReturn),
		)
	}
	return wr, truncated
}

// evaluate runs one parameter set over one segment with a fresh broker.
func (wf *WalkForward) evaluate(ctx context.Context, bars []types.Bar, params types.ParameterSet) (*types.PerformanceReport, error) {
	metrics.OptimizationEvals.Inc()

	cfg := *wf.cfg
	cfg.Risk.RiskPercent = params.RiskPercent

	runner := engine.NewRunner(wf.logger, &cfg, wf.rates, wf.news)
	res, err := runner.Run(ctx, bars, strategy.NewMeanReversion(params))
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", params.Key(), err)
	}
	return &res.Report, nil
}

// score ranks candidate reports in-sample. Return first, then risk
// adjustment, so a flat zero-trade run never beats a profitable one.
func score(r *types.PerformanceReport) float64 {
	if r.NoTrades {
		return math.Inf(-1)
	}
	return r.TotalReturn + 0.01*r.SharpeRatio
}

func (wf *WalkForward) isOverfit(trainReturn, testReturn float64) bool {
	if trainReturn <= 0 {
		return false
	}
	return testReturn/trainReturn < wf.cfg.WalkForward.OverfitRatio
}

func (wf *WalkForward) aggregate(result *Result) {
	n := float64(len(result.Windows))
	if n == 0 {
		return
	}
	var trainSum, testSum float64
	for _, w := range result.Windows {
		trainSum += w.TrainReport.TotalReturn
		testSum += w.TestReport.TotalReturn
	}
	result.MeanTrainReturn = trainSum / n
	result.MeanTestReturn = testSum / n

	var variance float64
	for _, w := range result.Windows {
		d := w.TestReport.TotalReturn - result.MeanTestReturn
		variance += d * d
	}
	result.TestReturnStdev = math.Sqrt(variance / n)

	result.OverfitWarning = result.MeanTrainReturn > 0 &&
		result.MeanTestReturn/result.MeanTrainReturn < wf.cfg.WalkForward.OverfitRatio
}

func (wf *WalkForward) workers() int {
	if w := wf.cfg.WalkForward.Workers; w > 0 {
		return w
	}
	return 4
}
