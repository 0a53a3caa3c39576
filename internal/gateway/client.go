package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CosmoTheDev/painscan/internal/progress"
	"github.com/CosmoTheDev/painscan/models"
)

// ErrStreamClosed is returned by StreamEvents when the server ends the
// stream before a terminal event.
var ErrStreamClosed = errors.New("event stream closed before the scan finished")

const (
	defaultReconnectWait = 500 * time.Millisecond
	maxReconnectWait     = 8 * time.Second
	maxReconnects        = 10
)

// Client talks to a running gateway.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// ReconnectWait is the first pause before Follow re-subscribes; it
	// doubles on each consecutive attempt.
	ReconnectWait time.Duration
}

// NewClient returns a Client for addr ("127.0.0.1:6080" or a full URL).
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{BaseURL: base, HTTP: &http.Client{}, ReconnectWait: defaultReconnectWait}
}

// Submit starts a scan and returns its id.
func (c *Client) Submit(ctx context.Context, repoURL string) (string, error) {
	body, _ := json.Marshal(submitRequest{RepositoryURL: repoURL})
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/api/scans", bytes.NewReader(body), http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.ScanID, nil
}

// Get fetches a scan record.
func (c *Client) Get(ctx context.Context, scanID string) (models.ScanRecord, error) {
	var rec models.ScanRecord
	err := c.do(ctx, http.MethodGet, "/api/scans/"+scanID, nil, http.StatusOK, &rec)
	return rec, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, want int, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func responseError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

// StreamEvents follows GET /api/scans/{id}/events and calls fn for each
// event. It returns nil after the terminal status event, an error for an
// "error" event, and ErrStreamClosed if the connection ends early.
func (c *Client) StreamEvents(ctx context.Context, scanID string, fn func(StreamEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/scans/"+scanID+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return readStream(resp.Body, fn)
}

func readStream(r io.Reader, fn func(StreamEvent) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var evt StreamEvent
			if err := json.Unmarshal([]byte(data.String()), &evt); err != nil {
				return fmt.Errorf("decoding event: %w", err)
			}
			data.Reset()
			if err := fn(evt); err != nil {
				return err
			}
			switch evt.Type {
			case EventError:
				return fmt.Errorf("scan events: %s", evt.Error)
			case progress.EventStatus:
				return nil
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return ErrStreamClosed
}

// Follow is StreamEvents for observers that must see the terminal event.
// When the stream drops early it reads the stored record: a finished scan
// is delivered to fn as a status event built from the record, otherwise
// Follow re-subscribes after a pause. Log events emitted while disconnected
// are not replayed.
func (c *Client) Follow(ctx context.Context, scanID string, fn func(StreamEvent) error) error {
	initial := c.ReconnectWait
	if initial <= 0 {
		initial = defaultReconnectWait
	}
	wait, attempts := initial, 0
	for {
		var progressed bool
		started := time.Now()
		err := c.StreamEvents(ctx, scanID, func(evt StreamEvent) error {
			progressed = true
			return fn(evt)
		})
		if err == nil || !reconnectable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if rec, gerr := c.Get(ctx, scanID); gerr == nil && rec.Status.IsTerminal() {
			t := progress.TerminalFromRecord(rec)
			return fn(StreamEvent{Event: progress.Event{Type: progress.EventStatus, Terminal: &t}})
		}

		// A stream that delivered events or stayed up a while was healthy.
		if progressed || time.Since(started) > maxReconnectWait {
			attempts, wait = 0, initial
		}
		attempts++
		if attempts > maxReconnects {
			return fmt.Errorf("following scan %s: gave up after %d reconnects: %w", scanID, maxReconnects, err)
		}
		slog.Debug("gateway: event stream dropped, reconnecting", "scan_id", scanID, "attempt", attempts, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, maxReconnectWait)
	}
}

// reconnectable reports whether a StreamEvents error is a lost connection
// rather than an answer from the gateway.
func reconnectable(err error) bool {
	var uerr *url.Error
	return errors.Is(err, ErrStreamClosed) || errors.As(err, &uerr)
}
