// Package enricher turns a raw finding into a narrative: a title, an
// explanation, a fix and a four-horizon timeline.
package enricher

import (
	"context"
	"log/slog"
	"time"

	"github.com/CosmoTheDev/painscan/internal/ai"
	"github.com/CosmoTheDev/painscan/internal/rules"
	"github.com/CosmoTheDev/painscan/models"
)

// Enricher produces the narrative for one finding.
type Enricher interface {
	Enrich(ctx context.Context, ruleID, file, snippet string) (models.Enrichment, error)
}

// New picks the AI enricher when provider can be used, and the canned one
// otherwise.
func New(provider ai.AIProvider, catalog *rules.Catalog, timeout time.Duration) Enricher {
	if catalog == nil {
		catalog = rules.MustDefault()
	}
	if provider == nil {
		return &CannedEnricher{catalog: catalog}
	}
	if _, noop := provider.(*ai.NoopProvider); noop {
		return &CannedEnricher{catalog: catalog}
	}
	return NewAI(provider, catalog, timeout)
}

// CannedEnricher serves catalog narratives only.
type CannedEnricher struct {
	catalog *rules.Catalog
}

// NewCanned returns a CannedEnricher over catalog.
func NewCanned(catalog *rules.Catalog) *CannedEnricher {
	if catalog == nil {
		catalog = rules.MustDefault()
	}
	return &CannedEnricher{catalog: catalog}
}

func (c *CannedEnricher) Enrich(_ context.Context, ruleID, file, _ string) (models.Enrichment, error) {
	return c.catalog.Canned(ruleID, file), nil
}

// AIEnricher asks the AI provider and falls back to canned content.
type AIEnricher struct {
	provider ai.AIProvider
	catalog  *rules.Catalog
	timeout  time.Duration

	// OnDegraded, when set, is called each time canned content replaces a
	// failed AI call.
	OnDegraded func(ruleID string, err error)
}

// NewAI returns an AIEnricher. Each call is bounded by timeout.
func NewAI(provider ai.AIProvider, catalog *rules.Catalog, timeout time.Duration) *AIEnricher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AIEnricher{provider: provider, catalog: catalog, timeout: timeout}
}

// Enrich returns a complete Enrichment. Provider failures are not errors:
// the catalog narrative is returned instead, marked Degraded.
func (e *AIEnricher) Enrich(ctx context.Context, ruleID, file, snippet string) (models.Enrichment, error) {
	req := ai.ExplainRequest{
		RuleID:   ruleID,
		Title:    e.catalog.Title(ruleID),
		Severity: string(models.SeverityFor(ruleID)),
		File:     file,
		Snippet:  snippet,
	}
	if r, ok := e.catalog.Lookup(ruleID); ok {
		req.Category = r.Category
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	exp, err := e.provider.ExplainFinding(callCtx, req)
	if err != nil {
		slog.Debug("AI enrichment failed, using canned narrative", "rule", ruleID, "file", file, "error", err)
		if e.OnDegraded != nil {
			e.OnDegraded(ruleID, err)
		}
		out := e.catalog.Canned(ruleID, file)
		out.Degraded = true
		return out, nil
	}

	canned := e.catalog.Canned(ruleID, file)
	out := models.Enrichment{
		Title:       exp.Title,
		Explanation: exp.Explanation,
		Fix:         exp.Fix,
		Timeline:    exp.Timeline,
	}
	if out.Title == "" {
		out.Title = canned.Title
	}
	for _, h := range models.Horizons {
		if out.Timeline.Get(h) == "" {
			out.Timeline.Set(h, canned.Timeline.Get(h))
		}
	}
	return out, nil
}
