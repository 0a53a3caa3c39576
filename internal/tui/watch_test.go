package tui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/CosmoTheDev/painscan/internal/gateway"
	"github.com/CosmoTheDev/painscan/internal/progress"
	"github.com/CosmoTheDev/painscan/models"
)

func fakeStream(events []gateway.StreamEvent, err error) StreamFunc {
	return func(_ context.Context, fn func(gateway.StreamEvent) error) error {
		for _, evt := range events {
			if e := fn(evt); e != nil {
				return e
			}
		}
		return err
	}
}

// pump feeds the model until the stream is exhausted.
func pump(t *testing.T, m *WatchModel) {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := m.waitForEvent()()
		m.Update(msg)
		if _, done := msg.(streamDoneMsg); done {
			return
		}
	}
	t.Fatal("stream never finished")
}

func TestWatchModelRendersLogsAndSummary(t *testing.T) {
	stats := models.Stats{CriticalCount: 1, LowCount: 2, TotalFindings: 3, TotalMinutesSaved: 240}
	events := []gateway.StreamEvent{
		{Event: progress.Event{Type: progress.EventLog, Log: &models.LogEntry{Phase: models.PhasePlan, Message: "Languages: Go"}}},
		{Event: progress.Event{Type: progress.EventLog, Log: &models.LogEntry{Phase: models.PhaseHunt, Message: "Found 3 issues"}}},
		{Event: progress.Event{Type: progress.EventStatus, Terminal: &progress.Terminal{Status: models.StatusCompleted, FindingsCount: 3, Stats: &stats}}},
	}
	m := NewWatchModel(context.Background(), "scan-1", fakeStream(events, nil))
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	pump(t, m)

	if m.Terminal() == nil || m.Terminal().Status != models.StatusCompleted {
		t.Fatalf("terminal = %+v", m.Terminal())
	}
	if m.Err() != nil {
		t.Fatalf("unexpected error: %v", m.Err())
	}
	view := m.View()
	for _, want := range []string{"scan-1", "Languages: Go", "Found 3 issues", "3 findings", "240 minutes"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestWatchModelShowsStreamErrors(t *testing.T) {
	events := []gateway.StreamEvent{{Event: progress.Event{Type: gateway.EventError}, Error: "scan not found"}}
	m := NewWatchModel(context.Background(), "missing", fakeStream(events, errors.New("scan events: scan not found")))
	pump(t, m)

	if m.Err() == nil || !strings.Contains(m.View(), "scan not found") {
		t.Fatalf("expected error in view, got %q", m.View())
	}
}

func TestWatchModelFailedSummary(t *testing.T) {
	events := []gateway.StreamEvent{
		{Event: progress.Event{Type: progress.EventStatus, Terminal: &progress.Terminal{Status: models.StatusFailed, Error: "Failed to analyze repository"}}},
	}
	m := NewWatchModel(context.Background(), "scan-2", fakeStream(events, nil))
	pump(t, m)
	if !strings.Contains(m.View(), "Failed to analyze repository") {
		t.Fatalf("view = %q", m.View())
	}
}

func TestWatchModelQuit(t *testing.T) {
	m := NewWatchModel(context.Background(), "scan-3", fakeStream(nil, nil))
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestLongLogLinesAreTruncated(t *testing.T) {
	entry := models.LogEntry{Phase: models.PhaseExplain, Message: strings.Repeat("x", 200)}
	out := renderLog(entry, 60)
	if strings.Contains(out, strings.Repeat("x", 60)) {
		t.Fatalf("line not truncated: %q", out)
	}
}

func TestWatchModelSurvivesDroppedStream(t *testing.T) {
	// The gateway cuts the stream after one log frame. The scan finishes
	// meanwhile, so the stored record is the only source of the terminal.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/scans/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"type":"log","log":{"phase":"hunt","message":"Found 1 issues"}}`+"\n\n")
	})
	mux.HandleFunc("GET /api/scans/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.ScanRecord{
			ID:       r.PathValue("id"),
			Status:   models.StatusCompleted,
			Findings: []models.EnrichedFinding{{ID: "F001", Title: "TODO left behind"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := gateway.NewClient(srv.URL)
	client.ReconnectWait = time.Millisecond
	m := NewWatchModel(context.Background(), "scan-4", func(ctx context.Context, fn func(gateway.StreamEvent) error) error {
		return client.Follow(ctx, "scan-4", fn)
	})
	pump(t, m)

	if m.Err() != nil {
		t.Fatalf("unexpected error: %v", m.Err())
	}
	if m.Terminal() == nil || m.Terminal().Status != models.StatusCompleted || m.Terminal().FindingsCount != 1 {
		t.Fatalf("terminal = %+v", m.Terminal())
	}
	if !strings.Contains(m.View(), "Found 1 issues") {
		t.Fatalf("view = %q", m.View())
	}
}
