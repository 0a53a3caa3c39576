package gateway

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const activityBuffer = 32

// activityFeed fans Activity frames out to GET /events clients. A client
// whose buffer is full misses the frame; per-scan progress has its own
// stream with guaranteed terminal delivery.
type activityFeed struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	dropped atomic.Int64
}

func newActivityFeed() *activityFeed {
	return &activityFeed{clients: make(map[chan []byte]struct{})}
}

// join registers a client. leave must be called when it disconnects.
func (f *activityFeed) join() (frames <-chan []byte, leave func()) {
	ch := make(chan []byte, activityBuffer)
	f.mu.Lock()
	f.clients[ch] = struct{}{}
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		delete(f.clients, ch)
		f.mu.Unlock()
	}
}

func (f *activityFeed) size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *activityFeed) publish(a Activity) {
	frame, err := sseFrame(a)
	if err != nil {
		slog.Warn("gateway: encoding activity frame", "type", a.Type, "error", err)
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.clients {
		select {
		case ch <- frame:
		default:
			if n := f.dropped.Add(1); n%100 == 1 {
				slog.Debug("gateway: activity client too slow, frame dropped", "type", a.Type, "dropped_total", n)
			}
		}
	}
}

func (f *activityFeed) submitted(scanID, repoURL, schedule string) {
	f.publish(Activity{Type: ActivitySubmitted, ScanID: scanID, RepositoryURL: repoURL, Schedule: schedule})
}
