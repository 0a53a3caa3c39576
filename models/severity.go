package models

// SeverityLevel ranks how much future pain a finding is expected to cause.
type SeverityLevel string

const (
	SeverityCritical SeverityLevel = "critical"
	SeverityHigh     SeverityLevel = "high"
	SeverityMedium   SeverityLevel = "medium"
	SeverityLow      SeverityLevel = "low"
)

// Weight returns a numeric weight for sorting (higher = more severe).
func (s SeverityLevel) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

func (s SeverityLevel) String() string {
	return string(s)
}

// MapSeverity normalises free-form severity strings (AI output, config values)
// to a SeverityLevel. Unrecognised values map to medium.
func MapSeverity(raw string) SeverityLevel {
	switch raw {
	case "CRITICAL", "critical", "Critical":
		return SeverityCritical
	case "HIGH", "high", "High", "ERROR", "error":
		return SeverityHigh
	case "LOW", "low", "Low", "INFO", "info":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Effort is the expected size of the remediation work.
type Effort string

const (
	EffortEasy   Effort = "easy"
	EffortMedium Effort = "medium"
	EffortLarge  Effort = "large"
)

func (e Effort) bump() Effort {
	switch e {
	case EffortEasy:
		return EffortMedium
	default:
		return EffortLarge
	}
}

// Categories used by the rule table.
const (
	CategorySecurity        = "security"
	CategoryReliability     = "reliability"
	CategoryMaintainability = "maintainability"
)

// RuleTraits is the fixed classification of a rule id.
type RuleTraits struct {
	Category string
	Severity SeverityLevel
	Effort   Effort
}

// ruleTable is the single source of truth for severity and base effort.
// The embedded rule catalog must agree with it.
var ruleTable = map[string]RuleTraits{
	"hardcoded-secret": {CategorySecurity, SeverityCritical, EffortEasy},
	"sql-injection":    {CategorySecurity, SeverityCritical, EffortMedium},
	"tls-skip-verify":  {CategorySecurity, SeverityCritical, EffortEasy},
	"eval-usage":       {CategorySecurity, SeverityHigh, EffortMedium},
	"weak-hash":        {CategorySecurity, SeverityHigh, EffortEasy},
	"insecure-http":    {CategorySecurity, SeverityMedium, EffortEasy},
	"empty-catch":      {CategoryReliability, SeverityHigh, EffortEasy},
	"bare-except":      {CategoryReliability, SeverityMedium, EffortEasy},
	"panic-call":       {CategoryReliability, SeverityMedium, EffortMedium},
	"magic-sleep":      {CategoryReliability, SeverityMedium, EffortMedium},
	"any-type":         {CategoryMaintainability, SeverityMedium, EffortMedium},
	"todo-comment":     {CategoryMaintainability, SeverityLow, EffortMedium},
	"debug-print":      {CategoryMaintainability, SeverityLow, EffortEasy},
	"var-declaration":  {CategoryMaintainability, SeverityLow, EffortEasy},
	"lint-suppression": {CategoryMaintainability, SeverityLow, EffortEasy},
}

// longSnippet is the snippet length above which the base effort is bumped.
const longSnippet = 160

// DefaultMinutesSaved is used when a finding could not be scored normally.
const DefaultMinutesSaved = 30

// Traits returns the classification for ruleID and whether it is a known rule.
func Traits(ruleID string) (RuleTraits, bool) {
	t, ok := ruleTable[ruleID]
	return t, ok
}

// KnownRuleIDs lists every rule id in the severity table.
func KnownRuleIDs() []string {
	ids := make([]string, 0, len(ruleTable))
	for id := range ruleTable {
		ids = append(ids, id)
	}
	return ids
}

// SeverityFor is a pure lookup. Unknown rules are medium.
func SeverityFor(ruleID string) SeverityLevel {
	if t, ok := ruleTable[ruleID]; ok {
		return t.Severity
	}
	return SeverityMedium
}

// ETAFor derives the remediation effort from the rule and the size of the
// flagged code.
func ETAFor(ruleID, snippet string) Effort {
	base := EffortMedium
	if t, ok := ruleTable[ruleID]; ok {
		base = t.Effort
	}
	if len(snippet) > longSnippet {
		return base.bump()
	}
	return base
}

// MinutesSavedFor estimates future debugging time avoided by fixing now.
func MinutesSavedFor(sev SeverityLevel, eta Effort) int {
	var base int
	switch sev {
	case SeverityCritical:
		base = 240
	case SeverityHigh:
		base = 120
	case SeverityMedium:
		base = 60
	default:
		base = 20
	}
	switch eta {
	case EffortMedium:
		return base * 2
	case EffortLarge:
		return base * 3
	default:
		return base
	}
}
