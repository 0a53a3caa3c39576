package notify

import "context"

// Event types.
const (
	EventScanCompleted   = "scan_completed"
	EventScanFailed      = "scan_failed"
	EventCriticalFinding = "critical_finding"
)

// Event represents a notification event from painscan.
type Event struct {
	Type     string // EventScanCompleted | EventScanFailed | EventCriticalFinding
	Title    string
	Body     string
	URL      string // optional deep link (repository URL)
	Severity string // "critical" | "high" | "medium" | "low" | ""
	ScanID   string
	RepoURL  string
	Metadata map[string]any // extra structured data
}

// Channel is implemented by each notification provider.
type Channel interface {
	Name() string
	IsConfigured() bool
	Send(ctx context.Context, evt Event) error
}
