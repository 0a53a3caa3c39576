package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	failureThreshold = 3
	resetTimeout     = 2 * time.Minute
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker stops calling a provider after failureThreshold retriable
// failures, then lets a single probe through once resetTimeout has passed.
type circuitBreaker struct {
	mu           sync.Mutex
	failures     int
	lastFailedAt time.Time
	state        breakerState
	now          func() time.Time
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{now: time.Now}
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == breakerOpen && cb.now().Sub(cb.lastFailedAt) >= resetTimeout {
		cb.state = breakerHalfOpen
	}
	return cb.state != breakerOpen
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = breakerClosed
}

// recordFailure counts a retriable failure. A failed half-open probe, or an
// auth failure (force), opens the breaker immediately.
func (cb *circuitBreaker) recordFailure(force bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailedAt = cb.now()
	if force || cb.failures >= failureThreshold || cb.state == breakerHalfOpen {
		if cb.state != breakerOpen {
			slog.Debug("ai: circuit breaker opened", "failures", cb.failures)
		}
		cb.state = breakerOpen
	}
}

// ChainProvider tries providers in order, skipping any whose breaker is open.
type ChainProvider struct {
	providers []AIProvider
	breakers  map[string]*circuitBreaker
	mu        sync.RWMutex
	current   string
	fallback  bool
}

func NewChain(providers []AIProvider) *ChainProvider {
	breakers := make(map[string]*circuitBreaker)
	for _, p := range providers {
		breakers[p.Name()] = newCircuitBreaker()
	}

	current := ""
	if len(providers) > 0 {
		current = providers[0].Name()
	}

	return &ChainProvider{
		providers: providers,
		breakers:  breakers,
		current:   current,
	}
}

func (c *ChainProvider) Name() string { return "chain" }

func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, p := range c.providers {
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

func (c *ChainProvider) ExplainFinding(ctx context.Context, req ExplainRequest) (*Explanation, error) {
	return runChain(ctx, c, func(p AIProvider) (*Explanation, error) {
		return p.ExplainFinding(ctx, req)
	})
}

func (c *ChainProvider) ReviewFile(ctx context.Context, req ReviewRequest) ([]ReviewedIssue, error) {
	return runChain(ctx, c, func(p AIProvider) ([]ReviewedIssue, error) {
		return p.ReviewFile(ctx, req)
	})
}

func runChain[T any](ctx context.Context, c *ChainProvider, call func(AIProvider) (T, error)) (T, error) {
	var zero T
	var lastErr error
	var usedFallback bool

	for _, p := range c.providers {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		cb := c.breakers[p.Name()]
		if !cb.allow() {
			slog.Debug("ai: circuit open, skipping provider", "provider", p.Name())
			continue
		}

		result, err := call(p)
		if err == nil {
			cb.recordSuccess()
			c.mu.Lock()
			c.current = p.Name()
			c.fallback = usedFallback
			c.mu.Unlock()

			if usedFallback {
				slog.Info("ai: provider succeeded after failover", "provider", p.Name())
			}
			return result, nil
		}

		switch {
		case isAuthError(err):
			cb.recordFailure(true)
			slog.Warn("ai: auth error, opening circuit", "provider", p.Name(), "error", err)
		case isRetriableError(err):
			cb.recordFailure(false)
		}

		slog.Warn("ai: provider failed, trying next", "provider", p.Name(), "error", err)
		lastErr = err
		usedFallback = true
	}

	if lastErr == nil {
		lastErr = errors.New("every provider circuit is open")
	}
	return zero, fmt.Errorf("all AI providers failed; last error: %w", lastErr)
}

func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	// Timeouts and transport errors count; caller cancellation and bad output do not.
	return !errors.Is(err, errMalformed) && !errors.Is(err, context.Canceled)
}

func isAuthError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Code == 401 || se.Code == 403)
}

func (c *ChainProvider) CurrentProvider() (provider string, fallback bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.fallback
}
