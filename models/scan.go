package models

import (
	"sort"
	"time"
)

// ScanStatus is the lifecycle state of a scan record.
type ScanStatus string

const (
	StatusScanning  ScanStatus = "scanning"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s ScanStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Log phases.
const (
	PhaseQueue   = "queue"
	PhasePlan    = "plan"
	PhaseHunt    = "hunt"
	PhaseExplain = "explain"
	PhaseWrite   = "write"
)

// LogEntry is a single append-only progress line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Phase     string    `json:"phase"     yaml:"phase"`
	Message   string    `json:"message"   yaml:"message"`
}

// NewLogEntry stamps a log entry with the current UTC time.
func NewLogEntry(phase, message string) LogEntry {
	return LogEntry{Timestamp: time.Now().UTC(), Phase: phase, Message: message}
}

// Stats is the aggregate summary of a completed scan.
type Stats struct {
	CriticalCount     int            `json:"critical_count"      yaml:"critical_count"`
	HighCount         int            `json:"high_count"          yaml:"high_count"`
	MediumCount       int            `json:"medium_count"        yaml:"medium_count"`
	LowCount          int            `json:"low_count"           yaml:"low_count"`
	TotalFindings     int            `json:"total_findings"      yaml:"total_findings"`
	ByCategory        map[string]int `json:"by_category"         yaml:"by_category"`
	TotalMinutesSaved int            `json:"total_minutes_saved" yaml:"total_minutes_saved"`
	Languages         []string       `json:"languages"           yaml:"languages"`
	Frameworks        []string       `json:"frameworks"          yaml:"frameworks"`
	TotalFiles        int            `json:"total_files"         yaml:"total_files"`
	TotalLines        int            `json:"total_lines"         yaml:"total_lines"`
}

// ComputeStats aggregates enriched findings. meta may be nil.
func ComputeStats(findings []EnrichedFinding, meta *RepoMetadata) Stats {
	s := Stats{ByCategory: map[string]int{}}
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			s.CriticalCount++
		case SeverityHigh:
			s.HighCount++
		case SeverityMedium:
			s.MediumCount++
		default:
			s.LowCount++
		}
		s.ByCategory[f.Category]++
		s.TotalMinutesSaved += f.MinutesSaved
	}
	s.TotalFindings = len(findings)
	if meta != nil {
		s.Languages = append([]string(nil), meta.Languages...)
		s.Frameworks = append([]string(nil), meta.Frameworks...)
		s.TotalFiles = meta.TotalFiles
		s.TotalLines = meta.TotalLines
	}
	return s
}

// ScanRecord is the persisted, externally visible state of one scan.
type ScanRecord struct {
	ID            string            `json:"id"             yaml:"id"`
	RepositoryURL string            `json:"repository_url" yaml:"repository_url"`
	Status        ScanStatus        `json:"status"         yaml:"status"`
	Findings      []EnrichedFinding `json:"findings"       yaml:"findings"`
	Stats         *Stats            `json:"stats,omitempty" yaml:"stats,omitempty"`
	Logs          []LogEntry        `json:"logs"           yaml:"logs"`
	CreatedAt     time.Time         `json:"created_at"     yaml:"created_at"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (r ScanRecord) Clone() ScanRecord {
	out := r
	out.Findings = append([]EnrichedFinding{}, r.Findings...)
	out.Logs = append([]LogEntry{}, r.Logs...)
	if r.Stats != nil {
		st := *r.Stats
		st.ByCategory = make(map[string]int, len(r.Stats.ByCategory))
		for k, v := range r.Stats.ByCategory {
			st.ByCategory[k] = v
		}
		st.Languages = append([]string(nil), r.Stats.Languages...)
		st.Frameworks = append([]string(nil), r.Stats.Frameworks...)
		out.Stats = &st
	}
	return out
}

// Roadmap orders findings by severity, then by minutes saved, then location.
func (r ScanRecord) Roadmap() []EnrichedFinding {
	out := append([]EnrichedFinding{}, r.Findings...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Weight() != b.Severity.Weight() {
			return a.Severity.Weight() > b.Severity.Weight()
		}
		if a.MinutesSaved != b.MinutesSaved {
			return a.MinutesSaved > b.MinutesSaved
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	return out
}
