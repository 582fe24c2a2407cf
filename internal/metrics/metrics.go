// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BacktestRuns counts completed simulation runs by outcome.
	BacktestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Name:      "runs_total",
		Help:      "Completed backtest runs by outcome.",
	}, []string{"outcome"})

	// RunDuration observes wall-clock time of simulation runs.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "backtest",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of a backtest run.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// OptimizationEvals counts parameter set evaluations across all
	// walk-forward windows.
	OptimizationEvals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backtest",
		Subsystem: "optimize",
		Name:      "evaluations_total",
		Help:      "Parameter set evaluations performed.",
	})

	// OverfitWindows counts walk-forward windows flagged as overfit.
	OverfitWindows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "backtest",
		Subsystem: "optimize",
		Name:      "overfit_windows_total",
		Help:      "Walk-forward windows whose out-of-sample return fell below the overfit threshold.",
	})

	// BarsFetched counts bars served by the data provider, by cache outcome.
	BarsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backtest",
		Subsystem: "data",
		Name:      "bars_fetched_total",
		Help:      "Bars served by the data provider.",
	}, []string{"source"})
)
