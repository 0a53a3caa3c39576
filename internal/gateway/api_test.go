package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/enricher"
	"github.com/CosmoTheDev/painscan/internal/metrics"
	"github.com/CosmoTheDev/painscan/internal/pipeline"
	"github.com/CosmoTheDev/painscan/internal/progress"
	"github.com/CosmoTheDev/painscan/internal/scan"
	"github.com/CosmoTheDev/painscan/internal/store"
	"github.com/CosmoTheDev/painscan/models"
)

type stubAnalyzer struct {
	findings []models.RawFinding
	gate     chan struct{}
}

func (s *stubAnalyzer) Name() string { return "stub" }

func (s *stubAnalyzer) Metadata(ctx context.Context, _ string) (models.RepoMetadata, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return models.RepoMetadata{}, ctx.Err()
		}
	}
	return models.RepoMetadata{Languages: []string{"Go"}, TotalFiles: 3, TotalLines: 120}, nil
}

func (s *stubAnalyzer) Scan(context.Context, string) ([]models.RawFinding, error) {
	return s.findings, nil
}

func stubFindings() []models.RawFinding {
	return []models.RawFinding{
		{RuleID: "todo-comment", Category: "maintainability", File: "main.go", Line: 7, Snippet: "// TODO: retry"},
		{RuleID: "hardcoded-secret", Category: "security", File: "config.go", Line: 2, Snippet: `token := "ghp_x"`},
	}
}

func newTestGateway(t *testing.T, a *stubAnalyzer, schedules ...config.ScheduleConfig) (*Gateway, *scan.Service) {
	t.Helper()
	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "scans.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	reg := prometheus.NewRegistry()
	hub := progress.NewHub(0)
	m := metrics.New(reg, hub.SubscriberCount)
	p := pipeline.New(a, nil, enricher.NewCanned(nil), pipeline.Options{Observer: m})
	svc := scan.NewService(st, hub, p, scan.Options{
		OnStart:  func(string) { m.ScanStarted() },
		OnFinish: []scan.FinishHook{func(_ context.Context, rec models.ScanRecord) { m.ScanFinished(rec) }},
	})
	t.Cleanup(func() {
		svc.Wait()
		_ = svc.Close()
	})
	cfg := &config.Config{Schedules: schedules}
	return New(cfg, svc, reg), svc
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func submit(t *testing.T, h http.Handler, repo string) string {
	t.Helper()
	rr := doRequest(t, h, http.MethodPost, "/api/scans", map[string]string{"repository_url": repo})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp submitResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ScanID == "" {
		t.Fatal("empty scan id")
	}
	return resp.ScanID
}

func waitFinished(t *testing.T, svc *scan.Service, id string) models.ScanRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := svc.Await(ctx, id, nil)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	return rec
}

func TestHealthAndRoot(t *testing.T) {
	gw, _ := newTestGateway(t, &stubAnalyzer{})
	h := gw.Handler()

	if rr := doRequest(t, h, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("health: %d", rr.Code)
	}
	rr := doRequest(t, h, http.MethodGet, "/", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "POST /api/scans") {
		t.Fatalf("root: %d %s", rr.Code, rr.Body.String())
	}
	if rr := doRequest(t, h, http.MethodGet, "/nope", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown path: %d", rr.Code)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	gw, svc := newTestGateway(t, &stubAnalyzer{})
	h := gw.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"empty url", `{"repository_url": ""}`},
		{"unsupported host", `{"repository_url": "https://example.com/a/b"}`},
		{"missing repo", `{"repository_url": "https://github.com/acme"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader(tt.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
	ids, _ := svc.List(context.Background())
	if len(ids) != 0 {
		t.Fatalf("rejected submissions must not create records, got %v", ids)
	}
}

func TestSubmitGetAndRoadmap(t *testing.T) {
	gw, svc := newTestGateway(t, &stubAnalyzer{findings: stubFindings()})
	h := gw.Handler()

	id := submit(t, h, "https://github.com/acme/api")
	waitFinished(t, svc, id)

	rr := doRequest(t, h, http.MethodGet, "/api/scans/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: %d", rr.Code)
	}
	var rec models.ScanRecord
	if err := json.NewDecoder(rr.Body).Decode(&rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Status != models.StatusCompleted || len(rec.Findings) != 2 || rec.Stats == nil {
		t.Fatalf("unexpected record: %+v", rec)
	}

	rr = doRequest(t, h, http.MethodGet, "/api/scans/"+id+"/roadmap", nil)
	var roadmap roadmapResponse
	if err := json.NewDecoder(rr.Body).Decode(&roadmap); err != nil {
		t.Fatalf("decode roadmap: %v", err)
	}
	if len(roadmap.Findings) != 2 || roadmap.Findings[0].Severity != models.SeverityCritical {
		t.Fatalf("roadmap should lead with the critical finding: %+v", roadmap.Findings)
	}

	rr = doRequest(t, h, http.MethodGet, "/api/scans", nil)
	if !strings.Contains(rr.Body.String(), id) {
		t.Fatalf("list should include %s: %s", id, rr.Body.String())
	}
}

func TestUnknownScanIs404(t *testing.T) {
	gw, _ := newTestGateway(t, &stubAnalyzer{})
	h := gw.Handler()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/scans/missing"},
		{http.MethodGet, "/api/scans/missing/roadmap"},
		{http.MethodDelete, "/api/scans/missing"},
	} {
		if rr := doRequest(t, h, tc.method, tc.path, nil); rr.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, rr.Code)
		}
	}
}

func TestDeleteScan(t *testing.T) {
	gw, svc := newTestGateway(t, &stubAnalyzer{})
	h := gw.Handler()
	id := submit(t, h, "https://gitlab.com/group/sub/project")
	waitFinished(t, svc, id)

	if rr := doRequest(t, h, http.MethodDelete, "/api/scans/"+id, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rr.Code, rr.Body.String())
	}
	if rr := doRequest(t, h, http.MethodGet, "/api/scans/"+id, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rr.Code)
	}
}

func TestEventsForFinishedScan(t *testing.T) {
	gw, svc := newTestGateway(t, &stubAnalyzer{findings: stubFindings()})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	h := gw.Handler()
	id := submit(t, h, "https://github.com/acme/api")
	waitFinished(t, svc, id)

	var got []StreamEvent
	err := NewClient(srv.URL).StreamEvents(context.Background(), id, func(evt StreamEvent) error {
		got = append(got, evt)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	if len(got) != 1 || got[0].Type != progress.EventStatus {
		t.Fatalf("expected a single status event, got %+v", got)
	}
	if got[0].Terminal.Status != models.StatusCompleted || got[0].Terminal.FindingsCount != 2 {
		t.Fatalf("unexpected terminal: %+v", got[0].Terminal)
	}
}

func TestEventsForUnknownScan(t *testing.T) {
	gw, _ := newTestGateway(t, &stubAnalyzer{})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	var got []StreamEvent
	err := NewClient(srv.URL).StreamEvents(context.Background(), "missing", func(evt StreamEvent) error {
		got = append(got, evt)
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "scan not found") {
		t.Fatalf("expected scan not found error, got %v", err)
	}
	if len(got) != 1 || got[0].Type != EventError {
		t.Fatalf("expected one error event, got %+v", got)
	}
}

func TestEventsStreamLiveLogs(t *testing.T) {
	gate := make(chan struct{})
	gw, svc := newTestGateway(t, &stubAnalyzer{findings: stubFindings(), gate: gate})
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	id, err := client.Submit(context.Background(), "https://github.com/acme/api")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var logs []models.LogEntry
	var terminal *progress.Terminal
	done := make(chan error, 1)
	go func() {
		done <- client.StreamEvents(context.Background(), id, func(evt StreamEvent) error {
			switch evt.Type {
			case progress.EventLog:
				logs = append(logs, *evt.Log)
			case progress.EventStatus:
				terminal = evt.Terminal
			}
			return nil
		})
	}()

	// Release the pipeline once the stream has subscribed.
	deadline := time.Now().Add(5 * time.Second)
	for svc.Hub().SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	if terminal == nil || terminal.Status != models.StatusCompleted {
		t.Fatalf("missing completed terminal: %+v", terminal)
	}
	rec, err := client.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(logs) == 0 || len(logs) > len(rec.Logs) {
		t.Fatalf("live logs %d, stored logs %d", len(logs), len(rec.Logs))
	}
	for i, entry := range logs {
		if stored := rec.Logs[len(rec.Logs)-len(logs)+i]; stored.Message != entry.Message {
			t.Fatalf("log %d = %q, stored %q", i, entry.Message, stored.Message)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gw, svc := newTestGateway(t, &stubAnalyzer{findings: stubFindings()})
	h := gw.Handler()
	id := submit(t, h, "https://github.com/acme/api")
	waitFinished(t, svc, id)
	svc.Wait()

	rr := doRequest(t, h, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`painscan_scans_total{status="completed"} 1`,
		`painscan_findings_total{severity="critical"} 1`,
		"painscan_phase_duration_seconds_bucket",
		"painscan_progress_subscribers",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestReadStreamIgnoresCommentsAndEndsEarly(t *testing.T) {
	raw := ": keep-alive\n\ndata: {\"type\":\"log\",\"log\":{\"phase\":\"plan\",\"message\":\"hi\"}}\n\n"
	var n int
	err := readStream(strings.NewReader(raw), func(StreamEvent) error { n++; return nil })
	if err != ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
}
