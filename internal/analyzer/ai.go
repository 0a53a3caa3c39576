package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/CosmoTheDev/painscan/internal/ai"
	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/repository"
	"github.com/CosmoTheDev/painscan/internal/rules"
	"github.com/CosmoTheDev/painscan/models"
)

const (
	minReviewBytes = 200
	maxReviewBytes = 64 * 1024
	reviewWorkers  = 3
)

// AIAnalyzer asks the AI provider to review a sample of source files.
type AIAnalyzer struct {
	*source
	provider ai.AIProvider
	catalog  *rules.Catalog
	files    int
	limits   limits
}

func newAI(src *source, deps Deps, cfg config.AnalyzerConfig) *AIAnalyzer {
	files := cfg.AIFiles
	if files <= 0 {
		files = 8
	}
	return &AIAnalyzer{
		source:   src,
		provider: deps.AI,
		catalog:  deps.Catalog,
		files:    files,
		limits:   limitsFromConfig(cfg),
	}
}

func (a *AIAnalyzer) Name() string { return "ai" }

// Scan implements Analyzer. It fails only when no file could be reviewed.
func (a *AIAnalyzer) Scan(ctx context.Context, repoURL string) ([]models.RawFinding, error) {
	if _, noop := a.provider.(*ai.NoopProvider); noop {
		return nil, &Error{Kind: KindUnavailable, Op: "scan", Err: ai.ErrNoAI}
	}
	var out []models.RawFinding
	err := a.withCheckout(ctx, "scan", repoURL, func(_ repository.RepoRef, root string) error {
		found, err := a.review(ctx, root)
		out = found
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *AIAnalyzer) review(ctx context.Context, root string) ([]models.RawFinding, error) {
	var candidates []sourceFile
	err := walkSources(ctx, root, func(f sourceFile) error {
		if f.Language != "" && f.Size >= minReviewBytes && f.Size <= maxReviewBytes {
			candidates = append(candidates, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []models.RawFinding{}, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Size > candidates[j].Size })
	if len(candidates) > a.files {
		candidates = candidates[:a.files]
	}

	results := make([][]models.RawFinding, len(candidates))
	var (
		mu       sync.Mutex
		failures int
		lastErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reviewWorkers)
	for i, f := range candidates {
		g.Go(func() error {
			found, err := a.reviewFile(gctx, f)
			if err != nil {
				if errors.Is(err, ai.ErrNoAI) {
					return err
				}
				slog.Warn("AI review failed for file", "file", f.Rel, "error", err)
				mu.Lock()
				failures++
				lastErr = err
				mu.Unlock()
				return nil
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failures == len(candidates) {
		return nil, lastErr
	}

	caps := newCapper(a.limits)
	for _, found := range results {
		for _, f := range found {
			if !caps.add(f) {
				return caps.findings(), nil
			}
		}
	}
	return caps.findings(), nil
}

func (a *AIAnalyzer) reviewFile(ctx context.Context, f sourceFile) ([]models.RawFinding, error) {
	data, err := os.ReadFile(f.Abs)
	if err != nil {
		return nil, err
	}
	lines, err := readLines(f.Abs)
	if err != nil || lines == nil {
		return nil, err
	}
	var hints []ai.RuleHint
	for _, r := range a.catalog.Rules() {
		if r.AppliesTo(f.Rel) {
			hints = append(hints, ai.RuleHint{ID: r.ID, Title: r.Title})
		}
	}
	issues, err := a.provider.ReviewFile(ctx, ai.ReviewRequest{
		File:     f.Rel,
		Language: f.Language,
		Content:  string(data),
		Rules:    hints,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.RawFinding, 0, len(issues))
	for _, is := range issues {
		if is.Line <= 0 || is.Line > len(lines) {
			continue
		}
		r, ok := a.catalog.Lookup(is.RuleID)
		if !ok {
			continue
		}
		snippet := is.Snippet
		if snippet == "" {
			snippet = lines[is.Line-1]
		}
		out = append(out, models.RawFinding{
			RuleID:   r.ID,
			Category: r.Category,
			File:     f.Rel,
			Line:     is.Line,
			Snippet:  trimSnippet(snippet),
		})
	}
	return out, nil
}
