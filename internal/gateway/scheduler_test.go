package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/repository"
)

func TestValidateSchedules(t *testing.T) {
	checkURL := func(raw string) error {
		_, err := repository.ParseRepoURL(raw)
		return err
	}
	ok := []config.ScheduleConfig{{Name: "nightly", Expr: "0 2 * * *", RepoURL: "https://github.com/acme/api"}}
	if err := ValidateSchedules(ok, checkURL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	badExpr := []config.ScheduleConfig{{Name: "broken", Expr: "every day", RepoURL: "https://github.com/acme/api"}}
	if err := ValidateSchedules(badExpr, checkURL); err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected invalid expression error, got %v", err)
	}

	badURL := []config.ScheduleConfig{{Name: "weird", Expr: "@daily", RepoURL: "ftp://nowhere"}}
	if err := ValidateSchedules(badURL, checkURL); !errors.Is(err, repository.ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestSchedulerFireRecordsOutcome(t *testing.T) {
	var submitted []string
	s := newScheduler([]config.ScheduleConfig{
		{Name: "hourly", Expr: "@hourly", RepoURL: "https://github.com/acme/api"},
		{Name: "bad", Expr: "not a cron", RepoURL: "https://github.com/acme/web"},
	}, func(_ context.Context, sched config.ScheduleConfig) (string, error) {
		submitted = append(submitted, sched.RepoURL)
		if strings.HasSuffix(sched.RepoURL, "web") {
			return "", errors.New("boom")
		}
		return "scan-1", nil
	})
	s.Start()
	defer s.Stop()

	s.fire(s.entries[0])
	s.fire(s.entries[1])

	statuses := s.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Active || statuses[0].NextRunAt == nil || statuses[0].LastScanID != "scan-1" {
		t.Fatalf("unexpected status for hourly: %+v", statuses[0])
	}
	if statuses[1].Active || statuses[1].Error == "" || statuses[1].LastError != "boom" {
		t.Fatalf("unexpected status for bad: %+v", statuses[1])
	}
	if len(submitted) != 2 {
		t.Fatalf("expected 2 submissions, got %v", submitted)
	}
}

func TestScheduledSubmissionCreatesScan(t *testing.T) {
	gw, svc := newTestGateway(t, &stubAnalyzer{}, config.ScheduleConfig{Name: "daily", Expr: "@daily", RepoURL: "https://github.com/acme/api"})
	gw.scheduler.fire(gw.scheduler.entries[0])

	statuses := gw.scheduler.Statuses()
	id := statuses[0].LastScanID
	if id == "" {
		t.Fatalf("schedule did not submit: %+v", statuses[0])
	}
	rec := waitFinished(t, svc, id)
	if rec.RepositoryURL != "https://github.com/acme/api" {
		t.Fatalf("unexpected repository: %s", rec.RepositoryURL)
	}
}
