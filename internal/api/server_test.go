package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quantfx/backtest-engine/internal/data"
	"github.com/quantfx/backtest-engine/internal/engine"
	"github.com/quantfx/backtest-engine/internal/workers"
	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct {
	bars []types.Bar
}

func (s *stubSource) Fetch(ctx context.Context, instrument string, from, to time.Time, _ types.Granularity, maxBars int) ([]types.Bar, error) {
	var out []types.Bar
	for _, b := range s.bars {
		if b.Timestamp.Before(from) || !b.Timestamp.Before(to) {
			continue
		}
		b.Instrument = instrument
		out = append(out, b)
		if maxBars > 0 && len(out) >= maxBars {
			break
		}
	}
	return out, nil
}

func seedBars(start time.Time, n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		mid := 1.0800 + float64(i%10)*0.0003
		bid := decimal.NewFromFloat(mid - 0.00005)
		ask := decimal.NewFromFloat(mid + 0.00005)
		wiggle := decimal.NewFromFloat(0.0004)
		bars[i] = types.Bar{
			Instrument: "EUR_USD",
			Timestamp:  start.Add(time.Duration(i) * time.Hour),
			BidOpen:    bid, BidHigh: bid.Add(wiggle), BidLow: bid.Sub(wiggle), BidClose: bid,
			AskOpen: ask, AskHigh: ask.Add(wiggle), AskLow: ask.Sub(wiggle), AskClose: ask,
			Volume: 50,
		}
	}
	return bars
}

func newTestServer(t *testing.T) (*Server, *workers.Pool, time.Time, time.Time) {
	t.Helper()
	cfg := types.DefaultConfig()
	cfg.WalkForward.Windows = 2
	cfg.WalkForward.Workers = 2

	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	source := &stubSource{bars: seedBars(start, 400)}
	provider := data.NewProvider(zap.NewNop(), source, cfg.Data)
	pool := workers.NewPool(zap.NewNop(), 2, 16)
	t.Cleanup(func() { pool.Stop(time.Second) })

	srv := NewServer(zap.NewNop(), &cfg, ServerConfig{Host: "localhost", Port: 0}, provider, pool)
	return srv, pool, start, start.Add(400 * time.Hour)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestInstrumentsEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/instruments", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Instruments []string `json:"instruments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Instruments, "EUR_USD")
}

func TestBarsEndpoint(t *testing.T) {
	srv, _, start, end := newTestServer(t)

	url := fmt.Sprintf("/api/v1/data/EUR_USD/bars?start=%s&end=%s",
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", url, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 400, body.Count)
}

func TestBarsEndpointRejectsBadRange(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/data/EUR_USD/bars?start=nope&end=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func waitForJob(t *testing.T, srv *Server, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/jobs/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var job Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
		if job.Status == JobCompleted || job.Status == JobFailed {
			return &job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return nil
}

func TestBacktestJobLifecycle(t *testing.T) {
	srv, _, start, end := newTestServer(t)

	reqBody, _ := json.Marshal(BacktestRequest{
		Instrument: "EUR_USD",
		Start:      start,
		End:        end,
		Params: types.ParameterSet{
			RSIOversold:   30,
			RSIOverbought: 70,
			MAShortPeriod: 5,
			MALongPeriod:  20,
			RewardRisk:    2.0,
			ATRMultiplier: 1.5,
			RiskPercent:   1.0,
		},
	})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/backtest", bytes.NewReader(reqBody)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.ID)

	job := waitForJob(t, srv, submitted.ID)
	require.Equal(t, JobCompleted, job.Status, "job error: %s", job.Error)
	require.NotNil(t, job.Backtest)
	assert.Equal(t, 400, job.Backtest.Bars)

	// The ledger endpoint serves CSV for a completed backtest.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/jobs/"+submitted.ID+"/ledger.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "entry_time")
}

func TestBacktestRejectsInvalidParams(t *testing.T) {
	srv, _, start, end := newTestServer(t)

	reqBody, _ := json.Marshal(BacktestRequest{
		Instrument: "EUR_USD",
		Start:      start,
		End:        end,
		Params:     types.ParameterSet{RSIOversold: 80, RSIOverbought: 20, MAShortPeriod: 5, MALongPeriod: 20},
	})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/backtest", bytes.NewReader(reqBody)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptimizeJobLifecycle(t *testing.T) {
	srv, _, start, end := newTestServer(t)

	reqBody, _ := json.Marshal(OptimizeRequest{
		Instrument: "EUR_USD",
		Start:      start,
		End:        end,
	})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/optimize", bytes.NewReader(reqBody)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	job := waitForJob(t, srv, submitted.ID)
	require.Equal(t, JobCompleted, job.Status, "job error: %s", job.Error)
	require.NotNil(t, job.Optimization)
	assert.Len(t, job.Optimization.Windows, 2)
}

func TestJobReadsSafeDuringLifecycleWrites(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	job := srv.newJob("backtest")

	// Encode snapshots while the job cycles through its states; the race
	// detector fails this test if a handler ever reads a live Job.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if snap, ok := srv.getJob(job.ID); ok {
				_, _ = json.Marshal(snap)
			}
		}
	}()
	for i := 0; i < 500; i++ {
		srv.startJob(job)
		srv.completeJob(job, func(j *Job) { j.Backtest = &engine.RunResult{} })
	}
	<-done

	snap, ok := srv.getJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, snap.Status)
	assert.NotNil(t, snap.Backtest)
}

func TestGetUnknownJob(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
