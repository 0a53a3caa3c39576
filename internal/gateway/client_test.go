package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CosmoTheDev/painscan/internal/progress"
	"github.com/CosmoTheDev/painscan/models"
)

// droppingGateway ends the first drops event streams after a single log
// frame. Later streams deliver a completed terminal. GET on the scan
// returns rec.
type droppingGateway struct {
	drops int

	mu      sync.Mutex
	streams int
	gets    int
	rec     models.ScanRecord
}

func (g *droppingGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/scans/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.streams++
		n := g.streams
		g.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		var evt StreamEvent
		if n <= g.drops {
			evt.Event = progress.Event{Type: progress.EventLog, Log: &models.LogEntry{Phase: models.PhaseHunt, Message: fmt.Sprintf("stream %d", n)}}
		} else {
			evt.Event = progress.Event{Type: progress.EventStatus, Terminal: &progress.Terminal{Status: models.StatusCompleted, FindingsCount: 1}}
		}
		frame, _ := sseFrame(evt)
		_, _ = w.Write(frame)
	})
	mux.HandleFunc("GET /api/scans/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.gets++
		rec := g.rec
		g.mu.Unlock()
		writeJSON(w, http.StatusOK, rec)
	})
	return mux
}

func (g *droppingGateway) counts() (streams, gets int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streams, g.gets
}

func newFollowClient(t *testing.T, g *droppingGateway) *Client {
	t.Helper()
	srv := httptest.NewServer(g.handler())
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)
	c.ReconnectWait = 5 * time.Millisecond
	return c
}

func collect(events *[]StreamEvent) func(StreamEvent) error {
	return func(evt StreamEvent) error {
		*events = append(*events, evt)
		return nil
	}
}

func TestFollowReportsStoredTerminalAfterDrop(t *testing.T) {
	g := &droppingGateway{drops: 100, rec: models.ScanRecord{
		ID:     "scan-1",
		Status: models.StatusCompleted,
		Findings: []models.EnrichedFinding{
			{RawFinding: models.RawFinding{RuleID: "todo-comment", File: "main.go", Line: 3}, ID: "F001"},
			{RawFinding: models.RawFinding{RuleID: "hardcoded-secret", File: "config.go", Line: 9}, ID: "F002"},
		},
	}}
	c := newFollowClient(t, g)

	var got []StreamEvent
	if err := c.Follow(context.Background(), "scan-1", collect(&got)); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if len(got) != 2 || got[0].Type != progress.EventLog || got[1].Type != progress.EventStatus {
		t.Fatalf("events = %+v", got)
	}
	if term := got[1].Terminal; term.Status != models.StatusCompleted || term.FindingsCount != 2 {
		t.Fatalf("terminal = %+v", term)
	}
	if streams, _ := g.counts(); streams != 1 {
		t.Fatalf("expected no re-subscribe once the record is finished, got %d streams", streams)
	}
}

func TestFollowResubscribesWhileScanRuns(t *testing.T) {
	g := &droppingGateway{drops: 2, rec: models.ScanRecord{ID: "scan-2", Status: models.StatusScanning}}
	c := newFollowClient(t, g)

	var got []StreamEvent
	if err := c.Follow(context.Background(), "scan-2", collect(&got)); err != nil {
		t.Fatalf("Follow: %v", err)
	}
	var msgs []string
	for _, evt := range got {
		if evt.Log != nil {
			msgs = append(msgs, evt.Log.Message)
		}
	}
	if strings.Join(msgs, ",") != "stream 1,stream 2" {
		t.Fatalf("logs = %v", msgs)
	}
	last := got[len(got)-1]
	if last.Type != progress.EventStatus || last.Terminal.Status != models.StatusCompleted {
		t.Fatalf("last event = %+v", last)
	}
	if streams, gets := g.counts(); streams != 3 || gets != 2 {
		t.Fatalf("streams=%d gets=%d", streams, gets)
	}
}

func TestFollowDoesNotRetryGatewayErrors(t *testing.T) {
	gw, _ := newTestGateway(t, &stubAnalyzer{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	c := NewClient(srv.URL)
	c.ReconnectWait = time.Millisecond
	var got []StreamEvent
	err := c.Follow(context.Background(), "missing", collect(&got))
	if err == nil || !strings.Contains(err.Error(), "scan not found") {
		t.Fatalf("expected scan not found, got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected a single error event, got %+v", got)
	}
}

func TestFollowStopsWithContext(t *testing.T) {
	g := &droppingGateway{drops: 1000, rec: models.ScanRecord{ID: "scan-3", Status: models.StatusScanning}}
	c := newFollowClient(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Follow(ctx, "scan-3", func(StreamEvent) error { return nil })
	if err == nil {
		t.Fatal("expected an error once the context ends")
	}
}

func TestReadStreamDecodesStatus(t *testing.T) {
	raw, _ := json.Marshal(StreamEvent{Event: progress.Event{Type: progress.EventStatus, Terminal: &progress.Terminal{Status: models.StatusFailed, Error: "boom"}}})
	var got StreamEvent
	err := readStream(strings.NewReader("data: "+string(raw)+"\n\n"), func(evt StreamEvent) error { got = evt; return nil })
	if err != nil {
		t.Fatalf("readStream: %v", err)
	}
	if got.Terminal == nil || got.Terminal.Error != "boom" {
		t.Fatalf("event = %+v", got)
	}
}
