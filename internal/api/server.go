package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quantfx/backtest-engine/internal/data"
	"github.com/quantfx/backtest-engine/internal/engine"
	"github.com/quantfx/backtest-engine/internal/metrics"
	"github.com/quantfx/backtest-engine/internal/optimize"
	"github.com/quantfx/backtest-engine/internal/strategy"
	"github.com/quantfx/backtest-engine/internal/workers"
	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// JobStatus is the lifecycle state of a submitted job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job tracks one submitted backtest or optimization. Results attach when the
// job completes; only one of Backtest/Optimization is ever set.
type Job struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Status       JobStatus         `json:"status"`
	Submitted    time.Time         `json:"submitted"`
	Started      time.Time         `json:"started"`
	Finished     time.Time         `json:"finished"`
	Error        string            `json:"error,omitempty"`
	Backtest     *engine.RunResult `json:"backtest,omitempty"`
	Optimization *optimize.Result  `json:"optimization,omitempty"`
}

// Server exposes the engine over HTTP and WebSocket. Long-running work goes
// through the worker pool; handlers return a job id immediately and clients
// poll or subscribe for completion.
type Server struct {
	logger     *zap.Logger
	cfg        *types.Config
	srvCfg     ServerConfig
	router     *mux.Router
	httpServer *http.Server
	provider   *data.Provider
	pool       *workers.Pool
	hub        *Hub
	rates      engine.RateTable

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewServer wires the HTTP layer over an already-constructed data provider.
func NewServer(logger *zap.Logger, cfg *types.Config, srvCfg ServerConfig, provider *data.Provider, pool *workers.Pool) *Server {
	s := &Server{
		logger:   logger,
		cfg:      cfg,
		srvCfg:   srvCfg,
		router:   mux.NewRouter(),
		provider: provider,
		pool:     pool,
		hub:      NewHub(logger),
		rates:    ratesFrom(cfg),
		jobs:     make(map[string]*Job),
	}
	s.setupRoutes()
	return s
}

func ratesFrom(cfg *types.Config) engine.RateTable {
	rates := make(engine.RateTable, len(cfg.Rates))
	for pair, rate := range cfg.Rates {
		rates[pair] = decimal.NewFromFloat(rate)
	}
	return rates
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/instruments", s.handleInstruments).Methods("GET")
	s.router.HandleFunc("/api/v1/data/{instrument}/bars", s.handleBars).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/optimize", s.handleRunOptimization).Methods("POST")
	s.router.HandleFunc("/api/v1/jobs/{id}", s.handleGetJob).Methods("GET")
	s.router.HandleFunc("/api/v1/jobs/{id}/ledger.csv", s.handleLedgerCSV).Methods("GET")

	s.router.Handle("/metrics", promhttp.Handler())
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the hub and the HTTP listener; blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run()

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	addr := fmt.Sprintf("%s:%d", s.srvCfg.Host, s.srvCfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.srvCfg.ReadTimeout,
		WriteTimeout: s.srvCfg.WriteTimeout,
	}
	s.logger.Info("api server listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop shuts the HTTP listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
		"jobs":   s.jobCount(),
	})
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	instruments := make([]string, 0, len(s.cfg.InstrumentCosts))
	for inst := range s.cfg.InstrumentCosts {
		instruments = append(instruments, inst)
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": instruments})
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	instrument := mux.Vars(r)["instrument"]
	start, end, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	granularity := types.Granularity(r.URL.Query().Get("granularity"))
	if granularity == "" {
		granularity = types.GranularityH1
	}

	bars, err := s.provider.GetRange(r.Context(), instrument, start, end, granularity)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, data.ErrDataUnavailable) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instrument": instrument,
		"count":      len(bars),
		"bars":       bars,
	})
}

// BacktestRequest is the POST /api/v1/backtest body.
type BacktestRequest struct {
	Instrument  string             `json:"instrument"`
	Start       time.Time          `json:"start"`
	End         time.Time          `json:"end"`
	Granularity types.Granularity  `json:"granularity"`
	Params      types.ParameterSet `json:"params"`
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateRequest(req.Instrument, req.Start, req.End); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Granularity == "" {
		req.Granularity = types.GranularityH1
	}
	if !req.Params.Valid() {
		http.Error(w, "invalid parameter set", http.StatusBadRequest)
		return
	}

	job := s.newJob("backtest")
	task := func(ctx context.Context) error {
		s.startJob(job)
		started := time.Now()

		bars, err := s.provider.GetRange(ctx, req.Instrument, req.Start, req.End, req.Granularity)
		if err != nil {
			metrics.BacktestRuns.WithLabelValues("error").Inc()
			s.failJob(job, err)
			return err
		}

		cfg := *s.cfg
		cfg.Risk.RiskPercent = req.Params.RiskPercent
		runner := engine.NewRunner(s.logger, &cfg, s.rates, nil)
		result, err := runner.Run(ctx, bars, strategy.NewMeanReversion(req.Params))
		metrics.RunDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.BacktestRuns.WithLabelValues("error").Inc()
			s.failJob(job, err)
			return err
		}
		metrics.BacktestRuns.WithLabelValues("ok").Inc()
		s.completeJob(job, func(j *Job) { j.Backtest = result })
		return nil
	}
	s.submit(w, job, task)
}

// OptimizeRequest is the POST /api/v1/optimize body. A zero-value grid runs
// the default search space.
type OptimizeRequest struct {
	Instrument  string            `json:"instrument"`
	Start       time.Time         `json:"start"`
	End         time.Time         `json:"end"`
	Granularity types.Granularity `json:"granularity"`
	Grid        optimize.Grid     `json:"grid"`
}

func (s *Server) handleRunOptimization(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validateRequest(req.Instrument, req.Start, req.End); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Granularity == "" {
		req.Granularity = types.GranularityH1
	}
	grid := req.Grid
	if len(grid.Expand()) == 0 {
		grid = optimize.DefaultGrid()
	}

	job := s.newJob("optimize")
	task := func(ctx context.Context) error {
		s.startJob(job)

		bars, err := s.provider.GetRange(ctx, req.Instrument, req.Start, req.End, req.Granularity)
		if err != nil {
			s.failJob(job, err)
			return err
		}

		wf := optimize.NewWalkForward(s.logger, s.cfg, s.rates, nil)
		result, err := wf.Optimize(ctx, bars, grid, req.Start, req.End)
		if err != nil {
			s.failJob(job, err)
			return err
		}
		s.completeJob(job, func(j *Job) { j.Optimization = result })
		return nil
	}
	s.submit(w, job, task)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleLedgerCSV(w http.ResponseWriter, r *http.Request) {
	job, ok := s.getJob(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if job.Status != JobCompleted || job.Backtest == nil {
		http.Error(w, "job has no trade ledger", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-ledger.csv", job.ID))
	if err := engine.WriteLedgerCSV(w, job.Backtest.Trades); err != nil {
		s.logger.Error("write ledger csv", zap.Error(err))
	}
}

func (s *Server) submit(w http.ResponseWriter, job *Job, task workers.Task) {
	if err := s.pool.Submit(task); err != nil {
		s.dropJob(job.ID)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) newJob(kind string) *Job {
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    JobQueued,
		Submitted: time.Now().UTC(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job
}

func (s *Server) startJob(job *Job) {
	s.mu.Lock()
	job.Status = JobRunning
	job.Started = time.Now().UTC()
	s.mu.Unlock()
	s.notify(job)
}

func (s *Server) failJob(job *Job, err error) {
	s.mu.Lock()
	job.Status = JobFailed
	job.Error = err.Error()
	job.Finished = time.Now().UTC()
	s.mu.Unlock()
	s.notify(job)
}

func (s *Server) completeJob(job *Job, attach func(*Job)) {
	s.mu.Lock()
	job.Status = JobCompleted
	job.Finished = time.Now().UTC()
	attach(job)
	s.mu.Unlock()
	s.notify(job)
}

func (s *Server) notify(job *Job) {
	s.mu.RLock()
	update := map[string]any{"id": job.ID, "kind": job.Kind, "status": job.Status}
	s.mu.RUnlock()
	s.hub.Broadcast(MsgTypeJobUpdate, update)
}

// getJob returns a snapshot so handlers can encode it after the lock is
// released. The result pointers are attached once at completion and never
// mutated afterwards, so a shallow copy is enough.
func (s *Server) getJob(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

func (s *Server) dropJob(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

func (s *Server) jobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func validateRequest(instrument string, start, end time.Time) error {
	if instrument == "" {
		return errors.New("instrument is required")
	}
	if !end.After(start) {
		return errors.New("end must be after start")
	}
	return nil
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad end: %w", err)
	}
	return start, end, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
