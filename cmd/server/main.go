// Package main runs the backtest engine API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/quantfx/backtest-engine/internal/api"
	"github.com/quantfx/backtest-engine/internal/config"
	"github.com/quantfx/backtest-engine/internal/data"
	"github.com/quantfx/backtest-engine/internal/workers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	host := flag.String("host", "localhost", "Server host")
	port := flag.Int("port", 8080, "Server port")
	dataDir := flag.String("data", "./data", "Directory of <INSTRUMENT>.csv bar files")
	configPath := flag.String("config", "", "Optional YAML config file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	poolWorkers := flag.Int("workers", 0, "Job pool workers (0 = NumCPU)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	files, err := discoverDataFiles(*dataDir)
	if err != nil {
		logger.Fatal("failed to scan data directory", zap.Error(err), zap.String("dir", *dataDir))
	}
	logger.Info("starting backtest engine",
		zap.String("host", *host),
		zap.Int("port", *port),
		zap.Int("instruments", len(files)),
		zap.String("accountCurrency", cfg.AccountCurrency),
	)

	provider := data.NewProvider(logger, data.NewCSVSource(files), cfg.Data)
	pool := workers.NewPool(logger, *poolWorkers, 64)

	server := api.NewServer(logger, &cfg, api.ServerConfig{
		Host:         *host,
		Port:         *port,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // optimization jobs stream large results
	}, provider, pool)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}()
	logger.Info("server started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", *host, *port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", *host, *port)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}
	if err := pool.Stop(10 * time.Second); err != nil {
		logger.Error("error stopping worker pool", zap.Error(err))
	}
	logger.Info("server stopped")
}

// discoverDataFiles maps instruments to CSV files named <INSTRUMENT>.csv.
func discoverDataFiles(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		instrument := strings.TrimSuffix(e.Name(), ".csv")
		files[instrument] = filepath.Join(dir, e.Name())
	}
	return files, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:    zap.NewAtomicLevelAt(zapLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
