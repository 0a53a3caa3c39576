// Package gateway serves the painscan REST and SSE API and runs scheduled
// rescans.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/scan"
	"github.com/CosmoTheDev/painscan/models"
)

// Gateway is the long-running daemon that combines:
//   - the scan Service (detached pipeline runs)
//   - a cron Scheduler (submitting configured rescans)
//   - a REST + SSE HTTP server
type Gateway struct {
	cfg         *config.Config
	svc         *scan.Service
	scheduler   *Scheduler
	activity    *activityFeed
	metrics     http.Handler
	startedAt   time.Time
}

// New creates a Gateway around svc. gatherer backs GET /metrics; nil uses
// the default Prometheus registry.
func New(cfg *config.Config, svc *scan.Service, gatherer prometheus.Gatherer) *Gateway {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	gw := &Gateway{
		cfg:         cfg,
		svc:         svc,
		activity:    newActivityFeed(),
		metrics:     promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		startedAt:   time.Now(),
	}
	gw.scheduler = newScheduler(cfg.Schedules, gw.submitScheduled)
	svc.AddFinishHook(gw.scanFinished)
	return gw
}

// Handler returns the HTTP handler serving the API.
func (gw *Gateway) Handler() http.Handler { return buildHandler(gw) }

func (gw *Gateway) submitScheduled(ctx context.Context, sched config.ScheduleConfig) (string, error) {
	id, err := gw.svc.Submit(ctx, sched.RepoURL)
	if err != nil {
		return "", err
	}
	gw.activity.submitted(id, sched.RepoURL, sched.Name)
	return id, nil
}

func (gw *Gateway) scanFinished(_ context.Context, rec models.ScanRecord) {
	gw.activity.publish(Activity{
		Type:          ActivityFinished,
		ScanID:        rec.ID,
		RepositoryURL: rec.RepositoryURL,
		Status:        rec.Status,
		FindingsCount: len(rec.Findings),
	})
}

// Start runs the gateway until ctx is cancelled. It:
//  1. Starts the cron scheduler
//  2. Binds the HTTP server (blocks until shutdown)
func (gw *Gateway) Start(ctx context.Context) error {
	port := gw.cfg.Gateway.Port
	if port == 0 {
		port = 6080
	}
	bind := gw.cfg.Gateway.Bind
	if bind == "" {
		bind = "127.0.0.1"
	}
	addr := net.JoinHostPort(bind, strconv.Itoa(port))

	gw.scheduler.Start()

	srv := &http.Server{
		Addr:              addr,
		Handler:           buildHandler(gw),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Shut down HTTP server when ctx is cancelled.
	go func() {
		<-ctx.Done()
		gw.scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway: listening", "addr", "http://"+addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
