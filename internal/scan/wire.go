package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CosmoTheDev/painscan/internal/ai"
	"github.com/CosmoTheDev/painscan/internal/analyzer"
	"github.com/CosmoTheDev/painscan/internal/archive"
	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/enricher"
	"github.com/CosmoTheDev/painscan/internal/metrics"
	"github.com/CosmoTheDev/painscan/internal/notify"
	"github.com/CosmoTheDev/painscan/internal/pipeline"
	"github.com/CosmoTheDev/painscan/internal/progress"
	"github.com/CosmoTheDev/painscan/internal/repository"
	"github.com/CosmoTheDev/painscan/internal/rules"
	"github.com/CosmoTheDev/painscan/internal/store"
	"github.com/CosmoTheDev/painscan/models"
)

// Open builds a fully wired Service from cfg: store, analyzers, enricher,
// pipeline, progress hub, metrics (registered on reg when non-nil),
// notifications and the optional archive.
func Open(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Service, error) {
	st, err := store.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	provider, err := ai.New(cfg.AI)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating AI provider: %w", err)
	}
	catalog := rules.MustDefault()

	deps := analyzer.Deps{
		Checkouts: repository.NewCheckouts(cfg.Git.CacheDir, seconds(cfg.Git.CloneTimeoutSeconds), func(p string) string {
			return repository.TokenForProvider(cfg.Git, p)
		}),
		Languages: repository.NewHosts(cfg.Git),
		AI:        provider,
		Catalog:   catalog,
	}
	primary, err := analyzer.New(cfg.Analyzer, deps)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	fallback := analyzer.Baseline(cfg.Analyzer, deps)

	hub := progress.NewHub(0)
	m := metrics.New(reg, hub.SubscriberCount)

	enr := enricher.New(provider, catalog, seconds(cfg.AI.TimeoutSeconds))
	if aiEnr, ok := enr.(*enricher.AIEnricher); ok {
		aiEnr.OnDegraded = m.AIDegraded
	}

	p := pipeline.New(primary, fallback, enr, pipeline.Options{
		BatchSize:  cfg.Pipeline.BatchSize,
		BatchPause: time.Duration(cfg.Pipeline.BatchPauseMillis) * time.Millisecond,
		Catalog:    catalog,
		Observer:   m,
	})

	opts := Options{
		MaxConcurrent: cfg.Pipeline.MaxConcurrentScans,
		OnStart:       func(string) { m.ScanStarted() },
		OnFinish:      []FinishHook{func(_ context.Context, rec models.ScanRecord) { m.ScanFinished(rec) }},
	}
	if d := notify.NewDispatcher(cfg.Notify); d.IsAnyConfigured() {
		opts.OnFinish = append(opts.OnFinish, d.ScanFinished)
	}
	arch, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		slog.Warn("archive disabled", "error", err)
	} else if arch != nil {
		opts.OnFinish = append(opts.OnFinish, arch.ScanFinished)
	}

	fb := "none"
	if fallback != nil {
		fb = fallback.Name()
	}
	slog.Debug("Scan service ready",
		"store", cfg.Store.Driver, "analyzer", primary.Name(), "fallback", fb,
		"ai", provider.Name(), "max_concurrent", opts.MaxConcurrent)
	return NewService(st, hub, p, opts), nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
