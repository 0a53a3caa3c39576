package models

// Horizons are the fixed future-pain checkpoints of a Timeline, in order.
var Horizons = []string{"3 months", "6 months", "1 year", "2 years"}

// Timeline narrates how a finding degrades the codebase over time.
type Timeline struct {
	ThreeMonths string `json:"3 months" yaml:"3 months"`
	SixMonths   string `json:"6 months" yaml:"6 months"`
	OneYear     string `json:"1 year"   yaml:"1 year"`
	TwoYears    string `json:"2 years"  yaml:"2 years"`
}

// Get returns the narrative for a horizon label.
func (t Timeline) Get(horizon string) string {
	switch horizon {
	case "3 months":
		return t.ThreeMonths
	case "6 months":
		return t.SixMonths
	case "1 year":
		return t.OneYear
	case "2 years":
		return t.TwoYears
	}
	return ""
}

// Set assigns the narrative for a horizon label. Unknown labels are ignored.
func (t *Timeline) Set(horizon, text string) {
	switch horizon {
	case "3 months":
		t.ThreeMonths = text
	case "6 months":
		t.SixMonths = text
	case "1 year":
		t.OneYear = text
	case "2 years":
		t.TwoYears = text
	}
}

// Complete reports whether every horizon has a narrative.
func (t Timeline) Complete() bool {
	for _, h := range Horizons {
		if t.Get(h) == "" {
			return false
		}
	}
	return true
}

// RawFinding is what an analyzer reports before enrichment.
type RawFinding struct {
	RuleID   string `json:"rule_id"  yaml:"rule_id"`
	Category string `json:"category" yaml:"category"`
	File     string `json:"file"     yaml:"file"`
	Line     int    `json:"line"     yaml:"line"`
	Snippet  string `json:"snippet"  yaml:"snippet"`
}

// Enrichment is the narrative produced for a single raw finding.
type Enrichment struct {
	Title       string   `json:"title,omitempty"`
	Explanation string   `json:"explanation"`
	Fix         string   `json:"fix"`
	Timeline    Timeline `json:"timeline"`
	// Degraded marks catalog content standing in for a failed AI call.
	Degraded bool `json:"-" yaml:"-"`
}

// EnrichedFinding is a raw finding plus scoring and narrative.
type EnrichedFinding struct {
	RawFinding   `yaml:",inline"`
	ID           string        `json:"id"            yaml:"id"`
	Severity     SeverityLevel `json:"severity"      yaml:"severity"`
	ETA          Effort        `json:"eta"           yaml:"eta"`
	Title        string        `json:"title"         yaml:"title"`
	Explanation  string        `json:"explanation"   yaml:"explanation"`
	Fix          string        `json:"fix"           yaml:"fix"`
	Timeline     Timeline      `json:"timeline"      yaml:"timeline"`
	MinutesSaved int           `json:"minutes_saved" yaml:"minutes_saved"`
}

// RepoMetadata describes the technology stack of a repository.
type RepoMetadata struct {
	Languages  []string `json:"languages"   yaml:"languages"`
	Frameworks []string `json:"frameworks"  yaml:"frameworks"`
	TotalFiles int      `json:"total_files" yaml:"total_files"`
	TotalLines int      `json:"total_lines" yaml:"total_lines"`
}
