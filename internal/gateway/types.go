package gateway

import (
	"time"

	"github.com/CosmoTheDev/painscan/internal/progress"
	"github.com/CosmoTheDev/painscan/models"
)

// Activity event types on GET /events.
const (
	ActivityConnected = "connected"
	ActivitySubmitted = "scan.submitted"
	ActivityFinished  = "scan.finished"
)

// Activity is one frame of the gateway-wide GET /events stream.
type Activity struct {
	Type          string            `json:"type"`
	ScanID        string            `json:"scan_id,omitempty"`
	RepositoryURL string            `json:"repository_url,omitempty"`
	Schedule      string            `json:"schedule,omitempty"`
	Status        models.ScanStatus `json:"status,omitempty"`
	FindingsCount int               `json:"findings_count,omitempty"`
	// Set on "connected" only.
	UptimeSeconds int64 `json:"uptime_seconds,omitempty"`
	Subscribers   int64 `json:"subscribers,omitempty"`
}

// StreamEvent is one frame of GET /api/scans/{id}/events: a "log" or
// "status" event from the progress hub, or an "error" event.
type StreamEvent struct {
	progress.Event
	Error string `json:"error,omitempty"`
}

// EventError is the type of a StreamEvent carrying Error.
const EventError = "error"

type submitRequest struct {
	RepositoryURL string `json:"repository_url"`
}

type submitResponse struct {
	ScanID string `json:"scan_id"`
}

type roadmapResponse struct {
	ScanID        string                   `json:"scan_id"`
	RepositoryURL string                   `json:"repository_url"`
	Status        models.ScanStatus        `json:"status"`
	Stats         *models.Stats            `json:"stats,omitempty"`
	Findings      []models.EnrichedFinding `json:"findings"`
}

// ScheduleStatus describes a configured rescan and its most recent firing.
type ScheduleStatus struct {
	Name       string     `json:"name"`
	Expr       string     `json:"expr"`
	RepoURL    string     `json:"repo_url"`
	Active     bool       `json:"active"`
	Error      string     `json:"error,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastScanID string     `json:"last_scan_id,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}
