package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CosmoTheDev/painscan/models"
)

func (p *Pipeline) plan(ctx context.Context, st State) Update {
	meta, err := p.analyzer.Metadata(ctx, st.RepoURL)
	if err != nil {
		return failure(models.PhasePlan, fmt.Sprintf("Failed to analyze repository: %v", err))
	}

	langs := "none detected"
	if len(meta.Languages) > 0 {
		langs = strings.Join(meta.Languages, ", ")
	}
	frameworks := "none detected"
	if len(meta.Frameworks) > 0 {
		frameworks = strings.Join(meta.Frameworks, ", ")
	}
	return Update{
		Metadata: &meta,
		Logs: []models.LogEntry{
			models.NewLogEntry(models.PhasePlan, "Languages: "+langs),
			models.NewLogEntry(models.PhasePlan, "Frameworks: "+frameworks),
			models.NewLogEntry(models.PhasePlan, fmt.Sprintf("Repository size: %d files, %d lines", meta.TotalFiles, meta.TotalLines)),
		},
	}
}

func (p *Pipeline) hunt(ctx context.Context, st State) Update {
	var logs []models.LogEntry
	findings, err := p.analyzer.Scan(ctx, st.RepoURL)
	if err != nil {
		if p.fallback == nil {
			return failure(models.PhaseHunt, fmt.Sprintf("Scan failed: %v", err))
		}
		slog.Warn("Primary analyzer failed, falling back", "scan_id", st.ScanID, "analyzer", p.analyzer.Name(), "error", err)
		logs = append(logs, models.NewLogEntry(models.PhaseHunt,
			fmt.Sprintf("%s analyzer failed (%v); falling back to %s analyzer", p.analyzer.Name(), err, p.fallback.Name())))
		findings, err = p.fallback.Scan(ctx, st.RepoURL)
		if err != nil {
			upd := failure(models.PhaseHunt, fmt.Sprintf("Scan failed: %v", err))
			upd.Logs = append(logs, upd.Logs...)
			return upd
		}
	}
	if findings == nil {
		findings = []models.RawFinding{}
	}

	if len(findings) == 0 {
		logs = append(logs, models.NewLogEntry(models.PhaseHunt, "No issues found"))
	} else {
		logs = append(logs, models.NewLogEntry(models.PhaseHunt,
			fmt.Sprintf("Found %d issues (%s)", len(findings), categoryBreakdown(findings))))
	}
	return Update{Findings: &findings, Logs: logs}
}

func categoryBreakdown(findings []models.RawFinding) string {
	counts := make(map[string]int)
	for _, f := range findings {
		cat := f.Category
		if cat == "" {
			cat = "uncategorized"
		}
		counts[cat]++
	}
	cats := make([]string, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = fmt.Sprintf("%s: %d", c, counts[c])
	}
	return strings.Join(parts, ", ")
}

func (p *Pipeline) explain(ctx context.Context, st State) Update {
	if len(st.Findings) == 0 {
		return Update{}
	}
	size := p.opts.BatchSize
	batches := (len(st.Findings) + size - 1) / size
	logs := []models.LogEntry{models.NewLogEntry(models.PhaseExplain,
		fmt.Sprintf("Explaining %d findings in %d batches", len(st.Findings), batches))}

	enriched := make([]models.EnrichedFinding, len(st.Findings))
	fallbacks := make([]bool, len(st.Findings))
	for b := 0; b < batches; b++ {
		if b > 0 && p.opts.BatchPause > 0 {
			pause(ctx, p.opts.BatchPause)
		}
		lo, hi := b*size, min((b+1)*size, len(st.Findings))
		var g errgroup.Group
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				enriched[i], fallbacks[i] = p.enrichOne(ctx, i, st.Findings[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	degraded := 0
	for i, fb := range fallbacks {
		if fb {
			degraded++
			p.opts.Observer.EnrichmentFallback(st.Findings[i].RuleID)
		}
	}
	msg := fmt.Sprintf("Explained %d findings", len(enriched))
	if degraded > 0 {
		msg += fmt.Sprintf(" (%d with fallback content)", degraded)
	}
	logs = append(logs, models.NewLogEntry(models.PhaseExplain, msg))
	return Update{Enriched: &enriched, Logs: logs}
}

// enrichOne never fails: enricher errors, panics and degraded results yield
// fallback content and the default minutes saved.
func (p *Pipeline) enrichOne(ctx context.Context, idx int, f models.RawFinding) (ef models.EnrichedFinding, fellBack bool) {
	sev := models.SeverityFor(f.RuleID)
	eta := models.ETAFor(f.RuleID, f.Snippet)
	if f.Category == "" {
		if t, ok := models.Traits(f.RuleID); ok {
			f.Category = t.Category
		}
	}
	ef = models.EnrichedFinding{
		RawFinding: f,
		ID:         fmt.Sprintf("F%03d", idx+1),
		Severity:   sev,
		ETA:        eta,
	}
	canned := p.opts.Catalog.Canned(f.RuleID, f.File)

	enr, err := p.safeEnrich(ctx, f)
	if err != nil || enr.Degraded {
		if err != nil {
			slog.Debug("Enrichment failed, using fallback", "rule", f.RuleID, "file", f.File, "error", err)
		}
		ef.Title = canned.Title
		ef.Explanation = canned.Explanation
		ef.Fix = canned.Fix
		ef.Timeline = canned.Timeline
		ef.MinutesSaved = models.DefaultMinutesSaved
		return ef, true
	}

	ef.Title = enr.Title
	if ef.Title == "" {
		ef.Title = canned.Title
	}
	ef.Explanation = enr.Explanation
	ef.Fix = enr.Fix
	ef.Timeline = enr.Timeline
	for _, h := range models.Horizons {
		if ef.Timeline.Get(h) == "" {
			ef.Timeline.Set(h, canned.Timeline.Get(h))
		}
	}
	ef.MinutesSaved = models.MinutesSavedFor(sev, eta)
	return ef, false
}

func (p *Pipeline) safeEnrich(ctx context.Context, f models.RawFinding) (enr models.Enrichment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enricher panicked: %v", r)
		}
	}()
	return p.enricher.Enrich(ctx, f.RuleID, f.File, f.Snippet)
}

func (p *Pipeline) write(_ context.Context, st State) Update {
	if len(st.Enriched) == 0 {
		return Update{}
	}
	stats := models.ComputeStats(st.Enriched, st.Metadata)
	return Update{Logs: []models.LogEntry{
		models.NewLogEntry(models.PhaseWrite, fmt.Sprintf("Roadmap ready: %d findings (%d critical, %d high, %d medium, %d low)",
			stats.TotalFindings, stats.CriticalCount, stats.HighCount, stats.MediumCount, stats.LowCount)),
		models.NewLogEntry(models.PhaseWrite, fmt.Sprintf("Fixing everything now saves an estimated %.1f hours of future work",
			float64(stats.TotalMinutesSaved)/60)),
	}}
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
