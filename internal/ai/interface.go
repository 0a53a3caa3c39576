package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/models"
)

// AIProvider abstracts calls to a language model.
// To add a new provider:
//  1. Create a file in internal/ai/ (e.g. mymodel.go)
//  2. Implement AIProvider (usually via a complete() method and the shared
//     explainWith / reviewWith helpers)
//  3. Register in newSingle()
type AIProvider interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string

	// IsAvailable verifies the provider is reachable and configured.
	IsAvailable(ctx context.Context) bool

	// ExplainFinding narrates the future cost of a single finding.
	ExplainFinding(ctx context.Context, req ExplainRequest) (*Explanation, error)

	// ReviewFile asks the model for issues in one source file.
	ReviewFile(ctx context.Context, req ReviewRequest) ([]ReviewedIssue, error)
}

// ExplainRequest is the context sent when explaining a finding.
type ExplainRequest struct {
	RuleID   string `json:"rule_id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	File     string `json:"file"`
	Snippet  string `json:"snippet"`
}

// Explanation is the model's narrative for one finding.
type Explanation struct {
	Title       string          `json:"title"`
	Explanation string          `json:"explanation"`
	Fix         string          `json:"fix"`
	Timeline    models.Timeline `json:"timeline"`
}

// RuleHint tells the reviewer which rule ids it may report.
type RuleHint struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ReviewRequest carries one file for review.
type ReviewRequest struct {
	File     string     `json:"file"`
	Language string     `json:"language"`
	Content  string     `json:"content"`
	Rules    []RuleHint `json:"rules"`
}

// ReviewedIssue is a single issue the model reported.
type ReviewedIssue struct {
	RuleID  string `json:"rule_id"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

// New returns the configured AIProvider.
// If no provider or API key is set, it returns a NoopProvider; callers
// check IsAvailable() before relying on AI features.
// If fallback providers are configured, returns a ChainProvider that tries
// them in order on failure with circuit breaker protection.
func New(cfg config.AIConfig) (AIProvider, error) {
	primary, err := newSingle(cfg.Provider, cfg)
	if err != nil {
		return nil, err
	}

	if len(cfg.Fallback) == 0 {
		return primary, nil
	}

	chain := []AIProvider{primary}
	for _, fallbackProvider := range cfg.Fallback {
		p, err := newSingle(fallbackProvider, cfg)
		if err != nil {
			slog.Warn("ai: failed to create fallback provider, skipping", "provider", fallbackProvider, "error", err)
			continue
		}
		if _, noop := p.(*NoopProvider); noop {
			continue
		}
		chain = append(chain, p)
	}

	if len(chain) == 1 {
		return primary, nil
	}

	return NewChain(chain), nil
}

// newSingle builds one provider. A hosted provider without a key degrades
// to NoopProvider.
func newSingle(provider string, cfg config.AIConfig) (AIProvider, error) {
	switch provider {
	case "", "none":
		return &NoopProvider{}, nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return &NoopProvider{}, nil
		}
		return NewOpenAI(cfg)
	case "ollama":
		return NewOllama(cfg)
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return &NoopProvider{}, nil
		}
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider %q (supported: openai, anthropic, ollama)", provider)
	}
}
