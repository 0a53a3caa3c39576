package scan

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/painscan/internal/pipeline"
	"github.com/CosmoTheDev/painscan/internal/progress"
	"github.com/CosmoTheDev/painscan/internal/store"
)

// recorder is the pipeline sink for one scan. It writes each delta through
// to the store first and only then publishes the new log entries, so a
// subscriber never sees a log line the store does not hold.
type recorder struct {
	store  store.Store
	hub    *progress.Hub
	scanID string
}

func (r *recorder) Apply(ctx context.Context, _ pipeline.State, delta pipeline.Update) error {
	p := store.Patch{AppendLogs: delta.Logs}
	if delta.Enriched != nil {
		findings := *delta.Enriched
		p.Findings = &findings
	}
	if p.IsEmpty() {
		return nil
	}
	if _, err := r.store.Update(ctx, r.scanID, p); err != nil {
		return fmt.Errorf("updating scan record %s: %w", r.scanID, err)
	}
	for _, entry := range delta.Logs {
		r.hub.Publish(r.scanID, entry)
	}
	return nil
}
