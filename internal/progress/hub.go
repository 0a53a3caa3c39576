// Package progress fans scan log entries and terminal notifications out to
// any number of observers. Publishing never blocks: a subscriber that falls
// behind loses log events (the store keeps the full sequence), but the
// terminal event is held on the subscription itself and is always delivered.
package progress

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/CosmoTheDev/painscan/models"
)

const defaultBuffer = 64

// Event types delivered by Subscription.Next.
const (
	EventLog    = "log"
	EventStatus = "status"
)

// Terminal is the final notification for a scan.
type Terminal struct {
	Status        models.ScanStatus `json:"status"`
	FindingsCount int               `json:"findings_count"`
	Stats         *models.Stats     `json:"stats,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// TerminalFromRecord builds the terminal notification for a finished record.
func TerminalFromRecord(rec models.ScanRecord) Terminal {
	t := Terminal{Status: rec.Status, FindingsCount: len(rec.Findings), Stats: rec.Stats}
	if rec.Status == models.StatusFailed && len(rec.Logs) > 0 {
		t.Error = rec.Logs[len(rec.Logs)-1].Message
	}
	return t
}

// Event is one item of a subscription stream.
type Event struct {
	Type     string           `json:"type"`
	Log      *models.LogEntry `json:"log,omitempty"`
	Terminal *Terminal        `json:"terminal,omitempty"`
}

// Hub routes events by scan id.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	count  atomic.Int64
}

// NewHub creates a Hub whose subscribers buffer up to buffer log events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{topics: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a new observer for scanID. The caller must Close it.
func (h *Hub) Subscribe(scanID string) *Subscription {
	sub := &Subscription{
		ScanID: scanID,
		hub:    h,
		logs:   make(chan models.LogEntry, h.buffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	subs, ok := h.topics[scanID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[scanID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	h.count.Add(1)
	return sub
}

// Publish offers entry to every current subscriber of scanID.
func (h *Hub) Publish(scanID string, entry models.LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.topics[scanID] {
		select {
		case sub.logs <- entry:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Finish delivers t to every current subscriber of scanID and forgets the
// topic. Subscribers keep draining buffered logs before seeing t.
func (h *Hub) Finish(scanID string, t Terminal) {
	h.mu.Lock()
	subs := h.topics[scanID]
	delete(h.topics, scanID)
	h.mu.Unlock()
	for sub := range subs {
		sub.finish(t)
	}
}

// SubscriberCount reports how many subscriptions are open.
func (h *Hub) SubscriberCount() float64 {
	return float64(h.count.Load())
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if subs, ok := h.topics[sub.ScanID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.ScanID)
		}
	}
	h.mu.Unlock()
}

// Subscription is one observer's view of a scan.
type Subscription struct {
	ScanID string

	hub       *Hub
	logs      chan models.LogEntry
	done      chan struct{}
	finishOne sync.Once
	closeOne  sync.Once
	terminal  Terminal
	delivered bool
	dropped   atomic.Int64
}

// Finish delivers t to this subscription only. Used when the scan already
// ended before the subscription was registered.
func (s *Subscription) Finish(t Terminal) { s.finish(t) }

func (s *Subscription) finish(t Terminal) {
	s.finishOne.Do(func() {
		s.terminal = t
		close(s.done)
	})
}

// Next blocks until the next event. Log events come first, in publish order;
// the terminal event comes last, after which Next returns io.EOF.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	if s.delivered {
		return Event{}, io.EOF
	}
	select {
	case entry := <-s.logs:
		return logEvent(entry), nil
	default:
	}
	select {
	case entry := <-s.logs:
		return logEvent(entry), nil
	case <-s.done:
		select {
		case entry := <-s.logs:
			return logEvent(entry), nil
		default:
		}
		s.delivered = true
		t := s.terminal
		return Event{Type: EventStatus, Terminal: &t}, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Dropped reports how many log events were skipped because the buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOne.Do(func() {
		s.hub.remove(s)
		s.hub.count.Add(-1)
	})
}

func logEvent(entry models.LogEntry) Event {
	e := entry
	return Event{Type: EventLog, Log: &e}
}
