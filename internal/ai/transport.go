package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxResponseBytes bounds what we read from a provider reply.
const maxResponseBytes = 4 << 20

// StatusError is a non-2xx answer from a provider API.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Body)
}

// httpTransport is the JSON-over-HTTP plumbing the hosted providers share.
// Retries cover connection errors, 429 and 5xx; Retry-After is honoured.
type httpTransport struct {
	provider     string
	client       *retryablehttp.Client
	debug        bool
	debugPrompts bool
}

func newTransport(provider string, timeout time.Duration, retries int) *httpTransport {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 8 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	// Hand the final response back so a non-2xx becomes a StatusError.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			slog.Warn("AI request failed; retrying",
				"provider", provider,
				"attempt", attempt,
				"max_attempts", retries+1,
			)
		}
	}
	return &httpTransport{
		provider:     provider,
		client:       rc,
		debug:        isDebug() || providerDebug(provider),
		debugPrompts: isDebugPrompts(),
	}
}

// trace logs request shape when PAINSCAN_AI_DEBUG or the provider switch is on.
func (t *httpTransport) trace(model, prompt string) {
	if t.debug {
		slog.Info("AI request", "provider", t.provider, "model", model, "prompt_chars", len(prompt))
	}
	if t.debugPrompts {
		slog.Info("AI prompt body", "provider", t.provider, "prompt", prompt)
	}
}

// probe reports whether a GET to url answers 200. It does not retry.
func (t *httpTransport) probe(ctx context.Context, url string, header map[string]string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	// #nosec G107 -- url comes from local config or a compile-time default.
	resp, err := t.client.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// postJSON sends payload to url and decodes a 200 reply into out.
func (t *httpTransport) postJSON(ctx context.Context, url string, header map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s request: %w", t.provider, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", t.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s API: %w", t.provider, err)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if closeErr := resp.Body.Close(); closeErr != nil {
		slog.Debug("closing AI response body", "provider", t.provider, "error", closeErr)
	}
	if err != nil {
		return fmt.Errorf("reading %s response: %w", t.provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Provider: t.provider, Code: resp.StatusCode, Body: truncateForError(msg, 300)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s response: %w", t.provider, err)
	}
	return nil
}
