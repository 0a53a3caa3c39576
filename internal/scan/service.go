// Package scan owns the scan lifecycle: it validates submissions, creates
// records, launches detached pipeline runs and commits their outcome to the
// store and the progress hub.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/CosmoTheDev/painscan/internal/pipeline"
	"github.com/CosmoTheDev/painscan/internal/progress"
	"github.com/CosmoTheDev/painscan/internal/repository"
	"github.com/CosmoTheDev/painscan/internal/store"
	"github.com/CosmoTheDev/painscan/models"
)

// ErrShuttingDown is returned by Submit once Shutdown has been called.
var ErrShuttingDown = errors.New("scan service is shutting down")

const defaultMaxConcurrent = 4

// Runner executes the phase pipeline for one scan.
type Runner interface {
	Run(ctx context.Context, st pipeline.State, sink pipeline.Sink) pipeline.State
}

// FinishHook is called once per scan after its terminal status is committed.
type FinishHook func(ctx context.Context, rec models.ScanRecord)

// Options tune a Service.
type Options struct {
	// MaxConcurrent bounds how many pipelines run at once (default 4).
	MaxConcurrent int
	// OnStart is called when a run acquires a pipeline slot.
	OnStart func(scanID string)
	// OnFinish hooks run after the terminal status is committed.
	OnFinish []FinishHook
}

// Service is the entry point for submitting and observing scans.
type Service struct {
	store    store.Store
	hub      *progress.Hub
	pipeline Runner
	sem      *semaphore.Weighted
	opts     Options
	newID    func() string

	stopCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewService wires a Service around an already opened store and hub.
func NewService(st store.Store, hub *progress.Hub, runner Runner, opts Options) *Service {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	stopCtx, stop := context.WithCancel(context.Background())
	return &Service{
		store:    st,
		hub:      hub,
		pipeline: runner,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		opts:     opts,
		newID:    uuid.NewString,
		stopCtx:  stopCtx,
		stop:     stop,
	}
}

// Hub returns the progress hub the service publishes to.
func (s *Service) Hub() *progress.Hub { return s.hub }

// Submit validates repoURL, records a new scan and launches its pipeline in
// the background. The returned id is readable immediately.
func (s *Service) Submit(ctx context.Context, repoURL string) (string, error) {
	ref, err := repository.ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	id := s.newID()
	rec := models.ScanRecord{
		ID:            id,
		RepositoryURL: ref.URL(),
		Status:        models.StatusScanning,
		Findings:      []models.EnrichedFinding{},
		Logs:          []models.LogEntry{models.NewLogEntry(models.PhaseQueue, "Scan queued for "+ref.FullName())},
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		s.wg.Done()
		return "", fmt.Errorf("creating scan record: %w", err)
	}

	slog.Info("Scan submitted", "scan_id", id, "repo", ref.FullName())
	go s.run(id, rec.RepositoryURL)
	return id, nil
}

func (s *Service) run(id, repoURL string) {
	defer s.wg.Done()

	if err := s.sem.Acquire(s.stopCtx, 1); err != nil {
		s.abort(id, "Scan aborted before it started: service is shutting down")
		return
	}
	defer s.sem.Release(1)

	if s.opts.OnStart != nil {
		s.opts.OnStart(id)
	}

	// The run is detached from the submitting request and always finishes.
	ctx := context.Background()
	start := time.Now()
	final := s.pipeline.Run(ctx, pipeline.NewState(id, repoURL), &recorder{store: s.store, hub: s.hub, scanID: id})
	rec := s.commit(ctx, final)
	slog.Info("Scan finished", "scan_id", id, "status", rec.Status, "findings", len(rec.Findings), "duration", time.Since(start).Round(time.Millisecond))
	s.finish(ctx, rec)
}

// commit writes the terminal status, findings and stats of a finished run.
func (s *Service) commit(ctx context.Context, final pipeline.State) models.ScanRecord {
	status := models.StatusCompleted
	if final.Failed() {
		status = models.StatusFailed
	}
	p := store.Patch{Status: &status}
	if status == models.StatusCompleted {
		findings := append([]models.EnrichedFinding{}, final.Enriched...)
		stats := models.ComputeStats(findings, final.Metadata)
		p.Findings = &findings
		p.Stats = &stats
	}

	rec, err := s.store.Update(ctx, final.ScanID, p)
	if err == nil {
		return rec
	}
	slog.Error("Failed to commit scan result", "scan_id", final.ScanID, "status", status, "error", err)
	// Observers still get a terminal event built from the in-memory state.
	return models.ScanRecord{
		ID:            final.ScanID,
		RepositoryURL: final.RepoURL,
		Status:        models.StatusFailed,
		Findings:      []models.EnrichedFinding{},
		Logs:          append(final.Logs, models.NewLogEntry(models.PhaseWrite, fmt.Sprintf("Failed to record scan result: %v", err))),
	}
}

// abort fails a scan that never started.
func (s *Service) abort(id, msg string) {
	ctx := context.Background()
	entry := models.NewLogEntry(models.PhaseQueue, msg)
	p := store.StatusPatch(models.StatusFailed)
	p.AppendLogs = []models.LogEntry{entry}
	rec, err := s.store.Update(ctx, id, p)
	if err != nil {
		slog.Error("Failed to record aborted scan", "scan_id", id, "error", err)
		rec = models.ScanRecord{ID: id, Status: models.StatusFailed, Logs: []models.LogEntry{entry}}
	} else {
		s.hub.Publish(id, entry)
	}
	slog.Warn("Scan aborted", "scan_id", id, "reason", msg)
	s.finish(ctx, rec)
}

func (s *Service) finish(ctx context.Context, rec models.ScanRecord) {
	s.hub.Finish(rec.ID, progress.TerminalFromRecord(rec))
	s.mu.Lock()
	hooks := append([]FinishHook(nil), s.opts.OnFinish...)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, rec.Clone())
	}
}

// AddFinishHook registers another hook for scans that finish from now on.
func (s *Service) AddFinishHook(h FinishHook) {
	s.mu.Lock()
	s.opts.OnFinish = append(s.opts.OnFinish, h)
	s.mu.Unlock()
}

// Get returns the current record for id.
func (s *Service) Get(ctx context.Context, id string) (models.ScanRecord, error) {
	return s.store.Get(ctx, id)
}

// List returns every known scan id.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.store.ListIDs(ctx)
}

// Delete removes a record. A run still in flight fails on its next write.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("Scan record deleted", "scan_id", id)
	return nil
}

// Subscribe opens a progress subscription for id. Logs appended after the
// call are delivered, followed by the terminal event; a scan that already
// finished yields its terminal event immediately. Unknown ids return
// store.ErrNotFound.
func (s *Service) Subscribe(ctx context.Context, id string) (*progress.Subscription, error) {
	// Register before reading the record so a concurrent finish is never missed.
	sub := s.hub.Subscribe(id)
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		sub.Close()
		return nil, err
	}
	if rec.Status.IsTerminal() {
		sub.Finish(progress.TerminalFromRecord(rec))
	}
	return sub, nil
}

// Await blocks until scan id reaches a terminal status and returns the final
// record. onLog, when set, receives live log entries.
func (s *Service) Await(ctx context.Context, id string, onLog func(models.LogEntry)) (models.ScanRecord, error) {
	sub, err := s.Subscribe(ctx, id)
	if err != nil {
		return models.ScanRecord{}, err
	}
	defer sub.Close()
	for {
		evt, err := sub.Next(ctx)
		if err != nil {
			return models.ScanRecord{}, err
		}
		if evt.Type == progress.EventLog {
			if onLog != nil {
				onLog(*evt.Log)
			}
			continue
		}
		rec, err := s.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return models.ScanRecord{}, fmt.Errorf("scan %s finished %s but its record is gone: %w", id, evt.Terminal.Status, err)
		}
		return rec, err
	}
}

// Wait blocks until every submitted run has finished.
func (s *Service) Wait() { s.wg.Wait() }

// Shutdown stops accepting submissions, fails queued runs that have not
// started and waits for running pipelines until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running scans: %w", ctx.Err())
	}
}

// Close releases the store.
func (s *Service) Close() error { return s.store.Close() }
