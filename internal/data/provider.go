// Package data provides historical bar fetching and caching.
package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantfx/backtest-engine/internal/metrics"
	"github.com/quantfx/backtest-engine/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrDataUnavailable indicates the requested range yielded no bars or
// contained a gap beyond the configured tolerance. Surfaced to the caller,
// never retried internally.
var ErrDataUnavailable = errors.New("historical data unavailable")

// CandleSource is the upstream feed. Implementations impose a chunk limit:
// a single Fetch returns at most maxBars bars starting at or after from.
type CandleSource interface {
	Fetch(ctx context.Context, instrument string, from, to time.Time, granularity types.Granularity, maxBars int) ([]types.Bar, error)
}

// Provider fetches, stitches and caches time-ordered bid/ask bars.
//
// The cache is keyed by (instrument, range, granularity) and populated under
// a per-key fetch-once guard, so once a range is materialized the slice is
// immutable and safe to share across concurrent readers.
type Provider struct {
	logger  *zap.Logger
	source  CandleSource
	cfg     types.DataConfig
	quality *QualityValidator

	mu    sync.Mutex
	cache map[rangeKey][]types.Bar
	locks map[rangeKey]*sync.Mutex
}

type rangeKey struct {
	instrument  string
	start       int64
	end         int64
	granularity types.Granularity
}

// NewProvider creates a provider over the given source.
func NewProvider(logger *zap.Logger, source CandleSource, cfg types.DataConfig) *Provider {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 5000
	}
	return &Provider{
		logger:  logger,
		source:  source,
		cfg:     cfg,
		quality: NewQualityValidator(logger),
		cache:   make(map[rangeKey][]types.Bar),
		locks:   make(map[rangeKey]*sync.Mutex),
	}
}

// GetRange returns the ordered bar sequence for [start, end). The first call
// for a key fetches and caches; later calls return the cached slice, which
// callers must treat as read-only.
func (p *Provider) GetRange(ctx context.Context, instrument string, start, end time.Time, granularity types.Granularity) ([]types.Bar, error) {
	key := rangeKey{instrument, start.UnixNano(), end.UnixNano(), granularity}

	lock := p.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok {
		metrics.BarsFetched.WithLabelValues("cache").Add(float64(len(cached)))
		return cached, nil
	}

	bars, err := p.fetchRange(ctx, instrument, start, end, granularity)
	if err != nil {
		return nil, err
	}
	metrics.BarsFetched.WithLabelValues("upstream").Add(float64(len(bars)))

	p.mu.Lock()
	p.cache[key] = bars
	p.mu.Unlock()

	p.logger.Info("cached historical range",
		zap.String("instrument", instrument),
		zap.String("granularity", string(granularity)),
		zap.Int("bars", len(bars)),
	)
	return bars, nil
}

// Prefetch materializes ranges for several instruments concurrently. All
// fetches complete before any simulation begins; a single failure fails the
// whole prefetch.
func (p *Provider) Prefetch(ctx context.Context, instruments []string, start, end time.Time, granularity types.Granularity) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, inst := range instruments {
		inst := inst
		g.Go(func() error {
			_, err := p.GetRange(ctx, inst, start, end, granularity)
			return err
		})
	}
	return g.Wait()
}

// Slice returns the cached bars restricted to [start, end). The full range
// must already be cached; Slice never fetches.
func Slice(bars []types.Bar, start, end time.Time) []types.Bar {
	lo := 0
	for lo < len(bars) && bars[lo].Timestamp.Before(start) {
		lo++
	}
	hi := lo
	for hi < len(bars) && bars[hi].Timestamp.Before(end) {
		hi++
	}
	return bars[lo:hi]
}

func (p *Provider) fetchRange(ctx context.Context, instrument string, start, end time.Time, granularity types.Granularity) ([]types.Bar, error) {
	var all []types.Bar
	cursor := start

	for cursor.Before(end) {
		chunk, err := p.source.Fetch(ctx, instrument, cursor, end, granularity, p.cfg.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("fetch %s from %s: %w", instrument, cursor.Format(time.RFC3339), err)
		}
		if len(chunk) == 0 {
			break
		}
		all = append(all, chunk...)

		// Advance past the last received timestamp so chunks never overlap.
		cursor = chunk[len(chunk)-1].Timestamp.Add(time.Nanosecond)
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s %s..%s", ErrDataUnavailable, instrument,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	if err := p.checkGaps(instrument, all); err != nil {
		return nil, err
	}
	if report := p.quality.Assess(instrument, all); !report.Usable() {
		return nil, fmt.Errorf("%w: %s failed quality screening (score %d, %d issues)",
			ErrDataUnavailable, instrument, report.Score, len(report.Issues))
	}
	return all, nil
}

// checkGaps fails when consecutive bars are separated by more than the
// configured tolerance. Callers decide whether to abort or narrow the range.
func (p *Provider) checkGaps(instrument string, bars []types.Bar) error {
	if p.cfg.GapTolerance <= 0 {
		return nil
	}
	for i := 1; i < len(bars); i++ {
		gap := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
		if gap > p.cfg.GapTolerance {
			return fmt.Errorf("%w: %s gap of %s at %s exceeds tolerance %s",
				ErrDataUnavailable, instrument, gap,
				bars[i-1].Timestamp.Format(time.RFC3339), p.cfg.GapTolerance)
		}
	}
	return nil
}

func (p *Provider) keyLock(key rangeKey) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}

// CacheSize returns the number of cached ranges.
func (p *Provider) CacheSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}
