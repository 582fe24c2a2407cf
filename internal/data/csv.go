package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// CSVSource serves bars from local CSV files, one file per instrument.
//
// Expected header: time, instrument, bid_open, bid_high, bid_low, bid_close,
// ask_open, ask_high, ask_low, ask_close, volume. Rows may be unordered;
// they are sorted on load.
type CSVSource struct {
	files  map[string]string
	loaded map[string][]types.Bar
}

// NewCSVSource creates a source over a map of instrument -> file path.
func NewCSVSource(files map[string]string) *CSVSource {
	return &CSVSource{
		files:  files,
		loaded: make(map[string][]types.Bar),
	}
}

// Fetch implements CandleSource. It honors maxBars so the provider's
// chunk-stitching path is exercised the same way as against a live feed.
func (s *CSVSource) Fetch(ctx context.Context, instrument string, from, to time.Time, _ types.Granularity, maxBars int) ([]types.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bars, err := s.load(instrument)
	if err != nil {
		return nil, err
	}

	var out []types.Bar
	for _, b := range bars {
		if b.Timestamp.Before(from) || !b.Timestamp.Before(to) {
			continue
		}
		out = append(out, b)
		if maxBars > 0 && len(out) >= maxBars {
			break
		}
	}
	return out, nil
}

func (s *CSVSource) load(instrument string) ([]types.Bar, error) {
	if bars, ok := s.loaded[instrument]; ok {
		return bars, nil
	}

	path, ok := s.files[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: no data file for %s", ErrDataUnavailable, instrument)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	bars, err := ReadBars(f, instrument)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	s.loaded[instrument] = bars
	return bars, nil
}

// ReadBars parses bid/ask bars from CSV data.
func ReadBars(r io.Reader, instrument string) ([]types.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"time", "bid_close", "ask_close"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var bars []types.Bar
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		ts, err := parseTime(rec[col["time"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(bars)+2, err)
		}

		bar := types.Bar{Instrument: instrument, Timestamp: ts}
		fields := []struct {
			name string
			dst  *decimal.Decimal
		}{
			{"bid_open", &bar.BidOpen}, {"bid_high", &bar.BidHigh},
			{"bid_low", &bar.BidLow}, {"bid_close", &bar.BidClose},
			{"ask_open", &bar.AskOpen}, {"ask_high", &bar.AskHigh},
			{"ask_low", &bar.AskLow}, {"ask_close", &bar.AskClose},
		}
		for _, fld := range fields {
			idx, ok := col[fld.name]
			if !ok {
				continue
			}
			d, err := decimal.NewFromString(rec[idx])
			if err != nil {
				return nil, fmt.Errorf("row %d: bad %s: %w", len(bars)+2, fld.name, err)
			}
			*fld.dst = d
		}
		if idx, ok := col["volume"]; ok {
			v, err := strconv.ParseFloat(rec[idx], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad volume: %w", len(bars)+2, err)
			}
			bar.Volume = int64(v)
		}

		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	// Unix seconds, possibly fractional.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable time %q", s)
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), nil
}
