package analyzer

import (
	"context"
	"errors"
	"strings"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/repository"
	"github.com/CosmoTheDev/painscan/internal/rules"
	"github.com/CosmoTheDev/painscan/models"
)

const maxSnippet = 200

// errFull stops a walk once the finding cap is reached.
var errFull = errors.New("finding limit reached")

// PatternAnalyzer matches catalog regexes line by line.
type PatternAnalyzer struct {
	*source
	catalog *rules.Catalog
	limits  limits
}

func newPattern(src *source, catalog *rules.Catalog, cfg config.AnalyzerConfig) *PatternAnalyzer {
	return &PatternAnalyzer{source: src, catalog: catalog, limits: limitsFromConfig(cfg)}
}

func (p *PatternAnalyzer) Name() string { return "pattern" }

// Scan implements Analyzer.
func (p *PatternAnalyzer) Scan(ctx context.Context, repoURL string) ([]models.RawFinding, error) {
	var out []models.RawFinding
	err := p.withCheckout(ctx, "scan", repoURL, func(_ repository.RepoRef, root string) error {
		found, err := p.scanDir(ctx, root)
		out = found
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PatternAnalyzer) scanDir(ctx context.Context, root string) ([]models.RawFinding, error) {
	caps := newCapper(p.limits)
	err := walkSources(ctx, root, func(f sourceFile) error {
		if f.Language == "" && !configLike(f.Rel) {
			return nil
		}
		lines, err := readLines(f.Abs)
		if err != nil {
			return err
		}
		for i, line := range lines {
			for _, r := range p.catalog.Match(f.Rel, line) {
				if !caps.add(models.RawFinding{
					RuleID:   r.ID,
					Category: r.Category,
					File:     f.Rel,
					Line:     i + 1,
					Snippet:  trimSnippet(line),
				}) {
					return errFull
				}
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFull) {
		return nil, err
	}
	return caps.findings(), nil
}

// configLike admits non-source files that commonly hold secrets.
func configLike(rel string) bool {
	lower := strings.ToLower(rel)
	for _, suffix := range []string{".env", ".yml", ".yaml", ".json", ".toml", ".ini", ".cfg", ".conf", ".properties"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func trimSnippet(line string) string {
	s := strings.TrimSpace(line)
	if len(s) > maxSnippet {
		s = s[:maxSnippet]
	}
	return s
}
