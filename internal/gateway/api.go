package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/painscan/internal/progress"
	"github.com/CosmoTheDev/painscan/internal/repository"
	"github.com/CosmoTheDev/painscan/internal/scan"
	"github.com/CosmoTheDev/painscan/internal/store"
)

// keepAliveInterval spaces SSE comment frames so idle proxies keep the
// connection open.
var keepAliveInterval = 15 * time.Second

func buildHandler(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	// Root/help
	mux.HandleFunc("GET /{$}", gw.handleRoot)

	// Health / metrics
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.Handle("GET /metrics", gw.metrics)

	// Scans
	mux.HandleFunc("POST /api/scans", gw.handleSubmitScan)
	mux.HandleFunc("GET /api/scans", gw.handleListScans)
	mux.HandleFunc("GET /api/scans/{id}", gw.handleGetScan)
	mux.HandleFunc("GET /api/scans/{id}/roadmap", gw.handleRoadmap)
	mux.HandleFunc("GET /api/scans/{id}/events", gw.handleScanEvents)
	mux.HandleFunc("DELETE /api/scans/{id}", gw.handleDeleteScan)

	// Schedules
	mux.HandleFunc("GET /api/schedules", gw.handleListSchedules)

	// Gateway-wide event stream
	mux.HandleFunc("GET /events", gw.handleEvents)

	return mux
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(gw.startedAt).Seconds()),
	})
}

func (gw *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "painscan gateway",
		"status":  "running",
		"message": "Submit a public GitHub or GitLab repository to get a prioritized remediation roadmap.",
		"endpoints": []string{
			"GET /health",
			"GET /metrics",
			"POST /api/scans",
			"GET /api/scans",
			"GET /api/scans/{id}",
			"GET /api/scans/{id}/roadmap",
			"GET /api/scans/{id}/events",
			"DELETE /api/scans/{id}",
			"GET /api/schedules",
			"GET /events",
		},
	})
}

func (gw *Gateway) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := gw.svc.Submit(r.Context(), req.RepositoryURL)
	switch {
	case errors.Is(err, repository.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, scan.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		slog.Error("gateway: submit failed", "repo", req.RepositoryURL, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start scan")
		return
	}
	gw.activity.submitted(id, strings.TrimSpace(req.RepositoryURL), "")
	w.Header().Set("Location", "/api/scans/"+id)
	writeJSON(w, http.StatusAccepted, submitResponse{ScanID: id})
}

func (gw *Gateway) handleListScans(w http.ResponseWriter, r *http.Request) {
	ids, err := gw.svc.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan_ids": ids, "total": len(ids)})
}

func (gw *Gateway) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := gw.svc.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (gw *Gateway) handleRoadmap(w http.ResponseWriter, r *http.Request) {
	id, err := pathScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := gw.svc.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roadmapResponse{
		ScanID:        rec.ID,
		RepositoryURL: rec.RepositoryURL,
		Status:        rec.Status,
		Stats:         rec.Stats,
		Findings:      rec.Roadmap(),
	})
}

func (gw *Gateway) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := gw.svc.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (gw *Gateway) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gw.scheduler.Statuses())
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// handleScanEvents streams one scan's progress: "log" events as they are
// appended, then one "status" event, after which the stream ends. Unknown
// ids get a single "error" event.
func (gw *Gateway) handleScanEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathScanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	sub, err := gw.svc.Subscribe(r.Context(), id)
	if err != nil {
		msg := "scan not found"
		if !errors.Is(err, store.ErrNotFound) {
			msg = err.Error()
		}
		writeStreamEvent(w, flusher, StreamEvent{Event: progress.Event{Type: EventError}, Error: msg})
		return
	}
	defer sub.Close()

	events := make(chan progress.Event)
	go func() {
		defer close(events)
		for {
			evt, err := sub.Next(r.Context())
			if err != nil {
				return
			}
			select {
			case events <- evt:
			case <-r.Context().Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			// SSE comment line; clients ignore it.
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !writeStreamEvent(w, flusher, StreamEvent{Event: evt}) {
				return
			}
			if evt.Type == progress.EventStatus {
				if n := sub.Dropped(); n > 0 {
					slog.Debug("gateway: slow SSE client missed log events", "scan_id", id, "dropped", n)
				}
				return
			}
		}
	}
}

func writeStreamEvent(w http.ResponseWriter, flusher http.Flusher, evt StreamEvent) bool {
	frame, err := sseFrame(evt)
	if err != nil {
		slog.Warn("gateway: failed to marshal scan event", "type", evt.Type, "error", err)
		return false
	}
	// SSE endpoint streams prebuilt frames (event-stream), not HTML template output.
	// nosemgrep: go.lang.security.audit.xss.no-direct-write-to-responsewriter.no-direct-write-to-responsewriter
	if _, err := w.Write(frame); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// handleEvents streams gateway-wide scan.submitted and scan.finished events.
func (gw *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	frames, leave := gw.activity.join()
	defer leave()

	connected, _ := sseFrame(Activity{
		Type:          ActivityConnected,
		UptimeSeconds: int64(time.Since(gw.startedAt).Seconds()),
		Subscribers:   int64(gw.svc.Hub().SubscriberCount()),
	})
	_, _ = w.Write(connected)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
