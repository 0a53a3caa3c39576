package analyzer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/models"
)

// Policy decides when hybrid mode asks the AI reviewer for more findings.
type Policy struct {
	// EnhanceOn triggers enhancement when any of these rule ids was found.
	EnhanceOn map[string]bool
	// MinSignal triggers enhancement when fewer pattern findings exist.
	MinSignal int
}

// PolicyFromConfig builds a Policy from configuration.
func PolicyFromConfig(cfg config.HybridConfig) Policy {
	p := Policy{EnhanceOn: make(map[string]bool, len(cfg.EnhanceOn)), MinSignal: cfg.MinSignal}
	for _, id := range cfg.EnhanceOn {
		p.EnhanceOn[id] = true
	}
	return p
}

// ShouldEnhance reports whether findings warrant an AI pass and why.
func (p Policy) ShouldEnhance(findings []models.RawFinding) (bool, string) {
	for _, f := range findings {
		if p.EnhanceOn[f.RuleID] {
			return true, fmt.Sprintf("rule %s present", f.RuleID)
		}
	}
	if len(findings) < p.MinSignal {
		return true, fmt.Sprintf("%d pattern findings below signal threshold %d", len(findings), p.MinSignal)
	}
	return false, ""
}

// HybridAnalyzer runs the pattern matcher and, when its policy says so,
// adds AI review findings on top. AI failures keep the pattern results.
type HybridAnalyzer struct {
	pattern *PatternAnalyzer
	ai      *AIAnalyzer
	policy  Policy
	limits  limits
}

func (h *HybridAnalyzer) Name() string { return "hybrid" }

func (h *HybridAnalyzer) Metadata(ctx context.Context, repoURL string) (models.RepoMetadata, error) {
	return h.pattern.Metadata(ctx, repoURL)
}

// Scan implements Analyzer.
func (h *HybridAnalyzer) Scan(ctx context.Context, repoURL string) ([]models.RawFinding, error) {
	base, err := h.pattern.Scan(ctx, repoURL)
	if err != nil {
		return nil, err
	}
	enhance, reason := h.policy.ShouldEnhance(base)
	if !enhance {
		return base, nil
	}
	slog.Info("Hybrid analyzer enhancing with AI review", "repo", repoURL, "reason", reason)
	extra, err := h.ai.Scan(ctx, repoURL)
	if err != nil {
		slog.Warn("AI enhancement failed, keeping pattern findings", "repo", repoURL, "error", err)
		return base, nil
	}

	caps := newCapper(h.limits)
	for _, f := range append(base, extra...) {
		if !caps.add(f) {
			break
		}
	}
	return caps.findings(), nil
}
