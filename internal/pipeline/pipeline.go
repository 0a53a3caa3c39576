package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/CosmoTheDev/painscan/internal/analyzer"
	"github.com/CosmoTheDev/painscan/internal/enricher"
	"github.com/CosmoTheDev/painscan/internal/rules"
	"github.com/CosmoTheDev/painscan/models"
)

// Sink receives every non-empty update, in order, together with the state
// after merging it. An error from Apply is fatal to the run.
type Sink interface {
	Apply(ctx context.Context, state State, delta Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, state State, delta Update) error

func (f SinkFunc) Apply(ctx context.Context, state State, delta Update) error {
	return f(ctx, state, delta)
}

// Observer is told about phase timings and enrichment fallbacks.
type Observer interface {
	PhaseFinished(phase string, d time.Duration, failed bool)
	EnrichmentFallback(ruleID string)
}

type noopObserver struct{}

func (noopObserver) PhaseFinished(string, time.Duration, bool) {}
func (noopObserver) EnrichmentFallback(string)                 {}

// Options tune a Pipeline.
type Options struct {
	// BatchSize is how many findings are enriched concurrently (default 5).
	BatchSize int
	// BatchPause is the cooldown between enrichment batches.
	BatchPause time.Duration
	// Catalog supplies fallback narratives (default: embedded catalog).
	Catalog  *rules.Catalog
	Observer Observer
}

// Pipeline runs the four phases in order.
type Pipeline struct {
	analyzer analyzer.Analyzer
	fallback analyzer.Analyzer
	enricher enricher.Enricher
	opts     Options
}

// New builds a Pipeline. fallback may be nil.
func New(a analyzer.Analyzer, fallback analyzer.Analyzer, e enricher.Enricher, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = 0
	}
	if opts.Catalog == nil {
		opts.Catalog = rules.MustDefault()
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &Pipeline{analyzer: a, fallback: fallback, enricher: e, opts: opts}
}

type phase struct {
	name string
	run  func(ctx context.Context, st State) Update
}

func (p *Pipeline) phases() []phase {
	return []phase{
		{models.PhasePlan, p.plan},
		{models.PhaseHunt, p.hunt},
		{models.PhaseExplain, p.explain},
		{models.PhaseWrite, p.write},
	}
}

// Run executes every phase against st and returns the final state. Once a
// phase fails the remaining phases do not run and produce no updates.
func (p *Pipeline) Run(ctx context.Context, st State, sink Sink) State {
	for _, ph := range p.phases() {
		if st.Failed() {
			break
		}
		start := time.Now()
		upd := p.runPhase(ctx, ph, st)
		p.opts.Observer.PhaseFinished(ph.name, time.Since(start), upd.Err != nil)
		if upd.IsEmpty() {
			continue
		}

		next := Merge(st, upd)
		if sink != nil {
			if err := sink.Apply(ctx, next, upd); err != nil {
				slog.Error("Pipeline sink failed", "scan_id", st.ScanID, "phase", ph.name, "error", err)
				fail := failure(ph.name, fmt.Sprintf("Failed to record %s progress: %v", ph.name, err))
				// The record may already be gone; the final state still says failed.
				failed := Merge(st, fail)
				if err := sink.Apply(ctx, failed, fail); err != nil {
					slog.Debug("Pipeline sink failed again", "scan_id", st.ScanID, "error", err)
				}
				return failed
			}
		}
		st = next
	}
	return st
}

func (p *Pipeline) runPhase(ctx context.Context, ph phase, st State) (upd Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pipeline phase panicked", "scan_id", st.ScanID, "phase", ph.name, "panic", r, "stack", string(debug.Stack()))
			upd = failure(ph.name, fmt.Sprintf("Internal error during %s: %v", ph.name, r))
		}
	}()
	return ph.run(ctx, st)
}
