// Package pipeline runs the fixed Plan, Hunt, Explain and Write phases of a
// scan. Phases are pure: each returns an Update, and Run is the only place
// that merges updates into the State and hands them to the Sink.
package pipeline

import "github.com/CosmoTheDev/painscan/models"

// State is the working state of one run. It is distinct from the persisted
// ScanRecord.
type State struct {
	ScanID   string
	RepoURL  string
	Metadata *models.RepoMetadata
	Findings []models.RawFinding
	Enriched []models.EnrichedFinding
	Logs     []models.LogEntry
	// Err is the message of the phase-fatal error, if any.
	Err string
}

// Failed reports whether a phase has failed.
func (s State) Failed() bool { return s.Err != "" }

// NewState returns the initial state for a run.
func NewState(scanID, repoURL string) State {
	return State{ScanID: scanID, RepoURL: repoURL}
}

// Update is a partial change produced by one phase. Logs are appended;
// every other non-nil field replaces the current value.
type Update struct {
	Metadata *models.RepoMetadata
	Findings *[]models.RawFinding
	Enriched *[]models.EnrichedFinding
	Logs     []models.LogEntry
	Err      *string
}

// IsEmpty reports whether u changes nothing.
func (u Update) IsEmpty() bool {
	return u.Metadata == nil && u.Findings == nil && u.Enriched == nil && len(u.Logs) == 0 && u.Err == nil
}

// Merge applies u to s and returns the new state. s is not modified and the
// result shares no log storage with it.
func Merge(s State, u Update) State {
	out := s
	out.Logs = make([]models.LogEntry, 0, len(s.Logs)+len(u.Logs))
	out.Logs = append(out.Logs, s.Logs...)
	out.Logs = append(out.Logs, u.Logs...)
	if u.Metadata != nil {
		m := *u.Metadata
		out.Metadata = &m
	}
	if u.Findings != nil {
		out.Findings = append([]models.RawFinding{}, (*u.Findings)...)
	}
	if u.Enriched != nil {
		out.Enriched = append([]models.EnrichedFinding{}, (*u.Enriched)...)
	}
	if u.Err != nil {
		out.Err = *u.Err
	}
	return out
}

func failure(phase, msg string) Update {
	return Update{Err: &msg, Logs: []models.LogEntry{models.NewLogEntry(phase, msg)}}
}
