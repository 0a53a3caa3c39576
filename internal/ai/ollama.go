package ai

import (
	"context"
	"strings"
	"time"

	"github.com/CosmoTheDev/painscan/internal/config"
)

// OllamaProvider implements AIProvider using a local Ollama server.
// Configure with: ai.provider = "ollama", ai.ollama_url = "http://localhost:11434"
type OllamaProvider struct {
	baseURL string
	model   string
	http    *httpTransport
}

// NewOllama creates an OllamaProvider from cfg.
func NewOllama(cfg config.AIConfig) (*OllamaProvider, error) {
	base := cfg.OllamaURL
	if base == "" {
		base = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}
	timeout, retries := 180*time.Second, 0
	if cfg.OptimizeForLocal {
		// Local models often time out or return a transient 5xx while loading.
		timeout, retries = 90*time.Second, 1
	}
	return &OllamaProvider{
		baseURL: strings.TrimRight(base, "/"),
		model:   model,
		http:    newTransport("ollama", timeout, retries),
	}, nil
}

func (o *OllamaProvider) Name() string { return "ollama" }

func (o *OllamaProvider) IsAvailable(ctx context.Context) bool {
	return o.http.probe(ctx, o.baseURL+"/api/tags", nil)
}

// ExplainFinding asks the local model to narrate one finding.
func (o *OllamaProvider) ExplainFinding(ctx context.Context, req ExplainRequest) (*Explanation, error) {
	return explainWith(ctx, o, req)
}

// ReviewFile asks the local model for rule violations in one file.
func (o *OllamaProvider) ReviewFile(ctx context.Context, req ReviewRequest) ([]ReviewedIssue, error) {
	return reviewWith(ctx, o, req)
}

type ollamaRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (o *OllamaProvider) complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	o.http.trace(o.model, prompt)
	var resp ollamaResponse
	err := o.http.postJSON(ctx, o.baseURL+"/api/generate", nil, ollamaRequest{
		Model:  o.model,
		System: systemPrompt,
		Prompt: prompt,
		Format: "json",
	}, &resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Response), nil
}
