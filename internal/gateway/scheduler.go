package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/CosmoTheDev/painscan/internal/config"
)

// submitTimeout bounds scheduled submissions, which only create a record.
const submitTimeout = 30 * time.Second

// Scheduler registers the configured schedules with robfig/cron. When a
// schedule fires it submits a new scan of its repository and records the
// outcome.
type Scheduler struct {
	cron     *cron.Cron
	submitFn func(context.Context, config.ScheduleConfig) (string, error)

	mu      sync.Mutex
	entries []*scheduleEntry
}

type scheduleEntry struct {
	cfg     config.ScheduleConfig
	entryID cron.EntryID
	active  bool
	err     string
	lastRun *time.Time
	lastID  string
	lastErr string
}

func newScheduler(schedules []config.ScheduleConfig, submitFn func(context.Context, config.ScheduleConfig) (string, error)) *Scheduler {
	s := &Scheduler{cron: cron.New(), submitFn: submitFn}
	for _, sched := range schedules {
		s.entries = append(s.entries, &scheduleEntry{cfg: sched})
	}
	return s
}

// Start registers every valid schedule and starts the cron runner.
func (s *Scheduler) Start() {
	loaded := 0
	for _, e := range s.entries {
		if err := s.register(e); err != nil {
			slog.Warn("scheduler: skipping schedule with invalid expression",
				"name", e.cfg.Name, "expr", e.cfg.Expr, "error", err)
			continue
		}
		loaded++
	}
	s.cron.Start()
	slog.Info("gateway scheduler started", "schedules_loaded", loaded)
}

// Stop halts the cron runner gracefully.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// register adds a schedule to the running cron instance.
func (s *Scheduler) register(e *scheduleEntry) error {
	entryID, err := s.cron.AddFunc(e.cfg.Expr, func() { s.fire(e) })
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		e.err = err.Error()
		return fmt.Errorf("invalid cron expression %q: %w", e.cfg.Expr, err)
	}
	e.entryID = entryID
	e.active = true
	return nil
}

// fire submits one scheduled scan.
func (s *Scheduler) fire(e *scheduleEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	id, err := s.submitFn(ctx, e.cfg)

	now := time.Now().UTC()
	s.mu.Lock()
	e.lastRun = &now
	e.lastID = id
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("scheduler: firing schedule failed", "name", e.cfg.Name, "repo", e.cfg.RepoURL, "error", err)
		return
	}
	slog.Info("scheduler: schedule fired", "name", e.cfg.Name, "repo", e.cfg.RepoURL, "scan_id", id)
}

// Statuses reports every configured schedule.
func (s *Scheduler) Statuses() []ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleStatus, 0, len(s.entries))
	for _, e := range s.entries {
		st := ScheduleStatus{
			Name:       e.cfg.Name,
			Expr:       e.cfg.Expr,
			RepoURL:    e.cfg.RepoURL,
			Active:     e.active,
			Error:      e.err,
			LastRunAt:  e.lastRun,
			LastScanID: e.lastID,
			LastError:  e.lastErr,
		}
		if e.active {
			if next := s.cron.Entry(e.entryID).Next; !next.IsZero() {
				st.NextRunAt = &next
			}
		}
		out = append(out, st)
	}
	return out
}

// validate checks that expr is parseable by robfig/cron without adding it
// permanently to any runner.
func validate(expr string) error {
	tmp := cron.New()
	id, err := tmp.AddFunc(expr, func() {})
	if err != nil {
		return err
	}
	tmp.Remove(id)
	return nil
}

// ValidateSchedules reports the first schedule whose expression or
// repository URL cannot be used.
func ValidateSchedules(schedules []config.ScheduleConfig, checkURL func(string) error) error {
	for _, sched := range schedules {
		if err := validate(sched.Expr); err != nil {
			return fmt.Errorf("schedule %q: invalid expression %q: %w", sched.Name, sched.Expr, err)
		}
		if checkURL != nil {
			if err := checkURL(sched.RepoURL); err != nil {
				return fmt.Errorf("schedule %q: %w", sched.Name, err)
			}
		}
	}
	return nil
}
