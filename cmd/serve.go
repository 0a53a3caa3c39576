package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/gateway"
	"github.com/CosmoTheDev/painscan/internal/repository"
	"github.com/CosmoTheDev/painscan/internal/scan"
)

var (
	servePort   int
	serveLogDir string
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"gateway"},
	Short:   "Start the painscan HTTP API",
	Long: `Starts the painscan gateway: a long-running server that accepts scan
requests, runs them in the background and streams their progress.

Scans submitted over the API run detached from the request: a client can
disconnect and come back later for the record or the roadmap.

Configured schedules (config "schedules") resubmit repositories on a cron
expression:
  "0 2 * * *"   every night at 02:00
  "@every 6h"   every 6 hours
  "@daily"      once per day at midnight

Quick API reference:
  GET    /health                      liveness check
  GET    /metrics                     Prometheus metrics
  POST   /api/scans                   submit (body: {"repository_url":"..."})
  GET    /api/scans                   list scan ids
  GET    /api/scans/{id}              full scan record
  GET    /api/scans/{id}/roadmap      findings ordered by priority
  GET    /api/scans/{id}/events       SSE stream of one scan's progress
  DELETE /api/scans/{id}              delete a record
  GET    /api/schedules               configured schedules
  GET    /events                      SSE stream of gateway-wide events`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"HTTP port to listen on (default 6080, overrides config)")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "logs",
		"directory to write server logs for later inspection")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logFilePath, closeLog, err := setupServeFileLogger(serveLogDir)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer closeLog()

	if servePort > 0 {
		cfg.Gateway.Port = servePort
	}
	if err := gateway.ValidateSchedules(cfg.Schedules, func(raw string) error {
		_, err := repository.ParseRepoURL(raw)
		return err
	}); err != nil {
		slog.Warn("Some schedules will not run", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := scan.Open(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer svc.Close()

	base := fmt.Sprintf("http://%s:%d", cfg.Gateway.Bind, cfg.Gateway.Port)
	fmt.Printf("painscan gateway starting\n")
	fmt.Printf("  Analyzer   : %s\n", cfg.Analyzer.Mode)
	fmt.Printf("  Store      : %s\n", cfg.Store.Driver)
	fmt.Printf("  API        : %s\n", base)
	fmt.Printf("  Metrics    : %s/metrics\n", base)
	fmt.Printf("  Logs       : %s\n\n", logFilePath)
	fmt.Println("Press Ctrl+C to stop gracefully.")
	fmt.Println()

	slog.Info("gateway logger initialised", "file", logFilePath)
	gw := gateway.New(cfg, svc, reg)
	serveErr := gw.Start(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Minute)
	defer stop()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Scans still running at shutdown", "error", err)
	}
	return serveErr
}

func setupServeFileLogger(logDir string) (string, func(), error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating log dir %s: %w", logDir, err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	runLogPath := filepath.Join(logDir, fmt.Sprintf("painscan-%s.log", ts))
	runFile, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("opening run log file: %w", err)
	}

	latestPath := filepath.Join(logDir, "painscan.log")
	latestFile, err := os.OpenFile(latestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runFile.Close()
		return "", nil, fmt.Errorf("opening latest log file: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, runFile, latestFile), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)

	cleanup := func() {
		_ = latestFile.Close()
		_ = runFile.Close()
	}
	return runLogPath, cleanup, nil
}
