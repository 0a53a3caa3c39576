// Package rules loads the embedded rule catalog that drives pattern
// detection and the canned narratives used when no AI enrichment is
// available.
package rules

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"

	"github.com/CosmoTheDev/painscan/models"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Rule is one detection rule with its canned narrative.
type Rule struct {
	ID          string          `yaml:"id"          json:"id"`
	Title       string          `yaml:"title"       json:"title"`
	Category    string          `yaml:"category"    json:"category"`
	Severity    string          `yaml:"severity"    json:"severity"`
	Effort      string          `yaml:"effort"      json:"effort"`
	Extensions  []string        `yaml:"extensions"  json:"extensions,omitempty"`
	Pattern     string          `yaml:"pattern"     json:"pattern"`
	Exclude     string          `yaml:"exclude"     json:"exclude,omitempty"`
	Explanation string          `yaml:"explanation" json:"explanation"`
	Fix         string          `yaml:"fix"         json:"fix"`
	Timeline    models.Timeline `yaml:"timeline"    json:"timeline"`

	re      *regexp.Regexp
	exclude *regexp.Regexp
}

// AppliesTo reports whether the rule should run against path.
func (r *Rule) AppliesTo(path string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range r.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// MatchLine reports whether line triggers the rule.
func (r *Rule) MatchLine(line string) bool {
	if !r.re.MatchString(line) {
		return false
	}
	return r.exclude == nil || !r.exclude.MatchString(line)
}

// Catalog is an immutable, indexed set of rules.
type Catalog struct {
	rules []*Rule
	byID  map[string]*Rule
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the embedded catalog. It is parsed once.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(catalogYAML)
	})
	return defaultCatalog, defaultErr
}

// MustDefault is Default for call sites that cannot meaningfully continue
// without the embedded catalog.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("rules: embedded catalog is invalid: %v", err))
	}
	return c
}

// Parse builds a Catalog from YAML and compiles every pattern.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Rules []*Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing rule catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]*Rule, len(doc.Rules))}
	for _, r := range doc.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule without id")
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: compiling pattern: %w", r.ID, err)
		}
		r.re = re
		if r.Exclude != "" {
			if r.exclude, err = regexp.Compile(r.Exclude); err != nil {
				return nil, fmt.Errorf("rule %s: compiling exclude: %w", r.ID, err)
			}
		}
		c.rules = append(c.rules, r)
		c.byID[r.ID] = r
	}
	return c, nil
}

// Rules returns the rules sorted by id.
func (c *Catalog) Rules() []*Rule {
	out := append([]*Rule(nil), c.rules...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup returns the rule with id, if any.
func (c *Catalog) Lookup(id string) (*Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// Match returns every rule that fires on line of the file at path.
func (c *Catalog) Match(path, line string) []*Rule {
	var hits []*Rule
	for _, r := range c.rules {
		if r.AppliesTo(path) && r.MatchLine(line) {
			hits = append(hits, r)
		}
	}
	return hits
}

// Title returns a human title for ruleID, falling back to the id itself.
func (c *Catalog) Title(ruleID string) string {
	if r, ok := c.byID[ruleID]; ok {
		return r.Title
	}
	return humanize(ruleID)
}

// Canned returns the catalog narrative for ruleID. Unknown rules get a
// generic narrative that still fills every timeline horizon.
func (c *Catalog) Canned(ruleID, file string) models.Enrichment {
	if r, ok := c.byID[ruleID]; ok {
		return models.Enrichment{
			Title:       r.Title,
			Explanation: r.Explanation,
			Fix:         r.Fix,
			Timeline:    r.Timeline,
		}
	}
	return Generic(ruleID, file)
}

// Generic is the narrative used when nothing specific is known about a rule.
func Generic(ruleID, file string) models.Enrichment {
	where := "this code"
	if file != "" {
		where = file
	}
	return models.Enrichment{
		Title:       humanize(ruleID),
		Explanation: fmt.Sprintf("%s flagged %s. Automated explanation is unavailable; review the code manually.", humanize(ruleID), where),
		Fix:         "Review the flagged code and apply the standard remediation for this kind of issue.",
		Timeline: models.Timeline{
			ThreeMonths: "The issue stays in place and similar code is written alongside it.",
			SixMonths:   "More call sites depend on the flagged behaviour.",
			OneYear:     "The issue contributes to a bug or incident that takes time to trace back here.",
			TwoYears:    "Fixing it requires coordinated changes across the code that grew around it.",
		},
	}
}

func humanize(ruleID string) string {
	if ruleID == "" {
		return "Unknown issue"
	}
	s := strings.ReplaceAll(ruleID, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}
