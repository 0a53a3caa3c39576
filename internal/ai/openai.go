package ai

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/CosmoTheDev/painscan/internal/config"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// OpenAIProvider implements AIProvider using the OpenAI chat completions API.
// It also works against any OpenAI-compatible endpoint set in ai.base_url.
type OpenAIProvider struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	http      *httpTransport
}

// NewOpenAI creates an OpenAIProvider from cfg.
func NewOpenAI(cfg config.AIConfig) (*OpenAIProvider, error) {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOpenAIBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid OpenAI base URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("invalid OpenAI base URL scheme %q", u.Scheme)
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIProvider{
		apiKey:    cfg.OpenAIKey,
		model:     model,
		baseURL:   strings.TrimRight(base, "/"),
		maxTokens: 1024,
		http:      newTransport("openai", 120*time.Second, 5),
	}, nil
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	return o.http.probe(ctx, o.baseURL+"/models", o.headers())
}

// ExplainFinding asks GPT to narrate the future cost of one finding.
func (o *OpenAIProvider) ExplainFinding(ctx context.Context, req ExplainRequest) (*Explanation, error) {
	return explainWith(ctx, o, req)
}

// ReviewFile asks GPT for rule violations in one file.
func (o *OpenAIProvider) ReviewFile(ctx context.Context, req ReviewRequest) ([]ReviewedIssue, error) {
	return reviewWith(ctx, o, req)
}

func (o *OpenAIProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + o.apiKey}
}

type openAIRequest struct {
	Model               string      `json:"model"`
	Messages            []openAIMsg `json:"messages"`
	MaxTokens           int         `json:"max_tokens,omitempty"`
	MaxCompletionTokens int         `json:"max_completion_tokens,omitempty"`
}

type openAIMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAIProvider) complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	payload := openAIRequest{
		Model: o.model,
		Messages: []openAIMsg{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	// Reasoning models reject max_tokens.
	if usesMaxCompletionTokens(o.model) {
		payload.MaxCompletionTokens = o.maxTokens
	} else {
		payload.MaxTokens = o.maxTokens
	}
	o.http.trace(o.model, prompt)

	var resp openAIResponse
	if err := o.http.postJSON(ctx, o.baseURL+"/chat/completions", o.headers(), payload, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("OpenAI error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func usesMaxCompletionTokens(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	if strings.Contains(m, "gpt-5") || strings.Contains(m, "codex") {
		return true
	}
	for _, p := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}
