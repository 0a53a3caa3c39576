package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/models"
)

// Dispatcher fans out events to all configured channels.
type Dispatcher struct {
	channels []Channel
	minSev   string          // minimum severity to notify on (empty = all)
	events   map[string]bool // event types to send (empty map = use defaults)
}

// defaultEvents is the set of event types that trigger notifications when cfg.Events is empty.
var defaultEvents = map[string]bool{
	EventCriticalFinding: true,
	EventScanFailed:      true,
}

// NewDispatcher creates a Dispatcher from the given config.
// Only channels with IsConfigured() == true are active.
func NewDispatcher(cfg config.NotifyConfig) *Dispatcher {
	return newDispatcher(cfg, NewSlack(cfg.Slack), NewWebhook(cfg.Webhook))
}

func newDispatcher(cfg config.NotifyConfig, channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		minSev: cfg.MinSeverity,
	}
	if len(cfg.Events) > 0 {
		d.events = make(map[string]bool, len(cfg.Events))
		for _, e := range cfg.Events {
			d.events[e] = true
		}
	} else {
		d.events = defaultEvents
	}
	for _, ch := range channels {
		if ch.IsConfigured() {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

// IsAnyConfigured returns true if at least one channel is ready to send.
func (d *Dispatcher) IsAnyConfigured() bool {
	return len(d.channels) > 0
}

// Notify sends evt to all configured channels. Errors are logged but never returned.
func (d *Dispatcher) Notify(ctx context.Context, evt Event) {
	if !d.shouldSend(evt) {
		return
	}
	for _, ch := range d.channels {
		if err := ch.Send(ctx, evt); err != nil {
			slog.Warn("notify: channel send failed", "channel", ch.Name(), "event", evt.Type, "scan_id", evt.ScanID, "error", err)
		}
	}
}

// ScanFinished turns a terminal scan record into notification events.
func (d *Dispatcher) ScanFinished(ctx context.Context, rec models.ScanRecord) {
	if !d.IsAnyConfigured() {
		return
	}
	for _, evt := range eventsFor(rec) {
		d.Notify(ctx, evt)
	}
}

func eventsFor(rec models.ScanRecord) []Event {
	base := Event{ScanID: rec.ID, RepoURL: rec.RepositoryURL, URL: rec.RepositoryURL}
	repo := strings.TrimPrefix(strings.TrimPrefix(rec.RepositoryURL, "https://"), "http://")

	if rec.Status == models.StatusFailed {
		evt := base
		evt.Type = EventScanFailed
		evt.Title = "Scan failed: " + repo
		if n := len(rec.Logs); n > 0 {
			evt.Body = rec.Logs[n-1].Message
		}
		return []Event{evt}
	}

	done := base
	done.Type = EventScanCompleted
	done.Title = "Scan completed: " + repo
	if rec.Stats != nil {
		done.Body = fmt.Sprintf("%d findings (%d critical, %d high, %d medium, %d low), about %d minutes of future pain avoided.",
			rec.Stats.TotalFindings, rec.Stats.CriticalCount, rec.Stats.HighCount,
			rec.Stats.MediumCount, rec.Stats.LowCount, rec.Stats.TotalMinutesSaved)
		done.Metadata = map[string]any{"total_findings": rec.Stats.TotalFindings}
	}
	out := []Event{done}

	for _, f := range rec.Roadmap() {
		if f.Severity != models.SeverityCritical {
			break
		}
		evt := base
		evt.Type = EventCriticalFinding
		evt.Severity = string(f.Severity)
		evt.Title = fmt.Sprintf("Critical: %s in %s", f.Title, repo)
		evt.Body = fmt.Sprintf("%s:%d\n%s", f.File, f.Line, f.Explanation)
		evt.Metadata = map[string]any{"finding_id": f.ID, "rule_id": f.RuleID}
		out = append(out, evt)
	}
	return out
}

func (d *Dispatcher) shouldSend(evt Event) bool {
	// Check event type filter
	if len(d.events) > 0 && !d.events[evt.Type] {
		return false
	}
	// Check severity filter (only applies to finding events)
	if d.minSev != "" && evt.Severity != "" {
		return severityAtLeast(evt.Severity, d.minSev)
	}
	return true
}

// severityAtLeast returns true if got >= min in severity ordering.
func severityAtLeast(got, min string) bool {
	return models.MapSeverity(got).Weight() >= models.MapSeverity(min).Weight()
}
