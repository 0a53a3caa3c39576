package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CosmoTheDev/painscan/internal/config"
)

const (
	anthropicMessagesEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicModelsEndpoint   = "https://api.anthropic.com/v1/models"
	anthropicVersionHeader    = "2023-06-01"
	anthropicDefaultModel     = "claude-sonnet-4-6"
)

// AnthropicProvider implements AIProvider using the Anthropic messages API.
type AnthropicProvider struct {
	apiKey      string
	model       string
	messagesURL string
	modelsURL   string
	http        *httpTransport
}

// NewAnthropic creates an AnthropicProvider from cfg.
func NewAnthropic(cfg config.AIConfig) *AnthropicProvider {
	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	return &AnthropicProvider{
		apiKey:      cfg.AnthropicKey,
		model:       model,
		messagesURL: anthropicMessagesEndpoint,
		modelsURL:   anthropicModelsEndpoint,
		http:        newTransport("anthropic", 90*time.Second, 2),
	}
}

func (c *AnthropicProvider) Name() string { return "anthropic" }

func (c *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	return c.http.probe(ctx, c.modelsURL, c.headers())
}

// ExplainFinding asks Claude to narrate the future cost of one finding.
func (c *AnthropicProvider) ExplainFinding(ctx context.Context, req ExplainRequest) (*Explanation, error) {
	return explainWith(ctx, c, req)
}

// ReviewFile asks Claude for rule violations in one file.
func (c *AnthropicProvider) ReviewFile(ctx context.Context, req ReviewRequest) ([]ReviewedIssue, error) {
	return reviewWith(ctx, c, req)
}

func (c *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersionHeader,
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AnthropicProvider) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload := anthropicRequest{
		Model:     c.model,
		MaxTokens: 2048,
		System:    systemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: userPrompt}},
	}
	c.http.trace(c.model, userPrompt)

	var resp anthropicResponse
	if err := c.http.postJSON(ctx, c.messagesURL, c.headers(), payload, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("Anthropic error: %s", resp.Error.Message)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("Anthropic returned no content")
	}
	return strings.TrimSpace(text.String()), nil
}
