package ai

import (
	"context"
	"errors"
)

// ErrNoAI is returned by NoopProvider for all AI operations.
var ErrNoAI = errors.New("AI provider not configured; run 'painscan onboard' to enable OpenAI, Anthropic, or Ollama")

// NoopProvider is used when no AI provider is configured.
// IsAvailable always returns false; all other methods return ErrNoAI.
// Callers check IsAvailable() and degrade to pattern rules and canned
// explanations instead of failing.
type NoopProvider struct{}

func (n *NoopProvider) Name() string                       { return "none" }
func (n *NoopProvider) IsAvailable(_ context.Context) bool { return false }

func (n *NoopProvider) ExplainFinding(_ context.Context, _ ExplainRequest) (*Explanation, error) {
	return nil, ErrNoAI
}

func (n *NoopProvider) ReviewFile(_ context.Context, _ ReviewRequest) ([]ReviewedIssue, error) {
	return nil, ErrNoAI
}
