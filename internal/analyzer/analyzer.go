// Package analyzer turns a repository URL into repository metadata and raw
// findings. Three interchangeable strategies exist: a pattern matcher over the
// rule catalog, an AI reviewer, and a hybrid of both. The strategy is chosen
// once from configuration.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/CosmoTheDev/painscan/internal/ai"
	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/repository"
	"github.com/CosmoTheDev/painscan/internal/rules"
	"github.com/CosmoTheDev/painscan/models"
)

// Analyzer inspects a repository.
type Analyzer interface {
	Name() string
	// Metadata describes the repository's stack.
	Metadata(ctx context.Context, repoURL string) (models.RepoMetadata, error)
	// Scan returns raw findings. An empty slice with a nil error means the
	// repository is clean; failures always return an *Error.
	Scan(ctx context.Context, repoURL string) ([]models.RawFinding, error)
}

// Kind classifies analyzer failures.
type Kind string

const (
	KindInvalidURL   Kind = "invalid_url"
	KindNotFound     Kind = "not_found"
	KindAuth         Kind = "auth"
	KindRateLimited  Kind = "rate_limit"
	KindTimeout      Kind = "timeout"
	KindConnectivity Kind = "connectivity"
	KindUnavailable  Kind = "unavailable"
	KindInternal     Kind = "internal"
)

// Error is a classified analyzer failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not an analyzer error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err is an analyzer error of kind k.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	return &Error{Kind: kindFor(err), Op: op, Err: err}
}

func kindFor(err error) Kind {
	var se *ai.StatusError
	var ne net.Error
	switch {
	case errors.Is(err, repository.ErrInvalidURL):
		return KindInvalidURL
	case errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, repository.ErrAuth):
		return KindAuth
	case errors.Is(err, repository.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ai.ErrNoAI):
		return KindUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &se):
		switch {
		case se.Code == 401 || se.Code == 403:
			return KindAuth
		case se.Code == 429:
			return KindRateLimited
		default:
			return KindUnavailable
		}
	case errors.As(err, &ne):
		if ne.Timeout() {
			return KindTimeout
		}
		return KindConnectivity
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"dial tcp", "no such host", "connection refused", "connection reset", "network is unreachable", "tls handshake"} {
		if strings.Contains(msg, hint) {
			return KindConnectivity
		}
	}
	if strings.Contains(msg, "timeout") {
		return KindTimeout
	}
	return KindInternal
}

// Deps are the collaborators shared by every strategy.
type Deps struct {
	Checkouts CheckoutSource
	// Languages is optional; host-reported languages are merged when set.
	Languages repository.LanguageSource
	AI        ai.AIProvider
	Catalog   *rules.Catalog
}

// CheckoutSource provides local working copies.
type CheckoutSource interface {
	Acquire(ctx context.Context, ref repository.RepoRef) (repository.Checkout, error)
	Forget(ref repository.RepoRef) error
}

// New builds the strategy named by cfg.Mode.
func New(cfg config.AnalyzerConfig, deps Deps) (Analyzer, error) {
	if deps.Catalog == nil {
		deps.Catalog = rules.MustDefault()
	}
	if deps.AI == nil {
		deps.AI = &ai.NoopProvider{}
	}
	base := newSource(deps, cfg)
	switch strings.ToLower(cfg.Mode) {
	case "", "pattern":
		return newPattern(base, deps.Catalog, cfg), nil
	case "ai":
		return newAI(base, deps, cfg), nil
	case "hybrid":
		return &HybridAnalyzer{
			pattern: newPattern(base, deps.Catalog, cfg),
			ai:      newAI(base, deps, cfg),
			policy:  PolicyFromConfig(cfg.Hybrid),
			limits:  limitsFromConfig(cfg),
		}, nil
	default:
		return nil, fmt.Errorf("unknown analyzer mode %q (supported: pattern, ai, hybrid)", cfg.Mode)
	}
}

// Baseline returns the pattern strategy used when the configured one fails
// during Hunt. It returns nil when fallback is disabled or the configured
// strategy already is the pattern matcher.
func Baseline(cfg config.AnalyzerConfig, deps Deps) Analyzer {
	mode := strings.ToLower(cfg.Mode)
	if !cfg.Fallback || mode == "" || mode == "pattern" {
		return nil
	}
	if deps.Catalog == nil {
		deps.Catalog = rules.MustDefault()
	}
	return newPattern(newSource(deps, cfg), deps.Catalog, cfg)
}

type limits struct {
	total   int
	perRule int
}

func limitsFromConfig(cfg config.AnalyzerConfig) limits {
	l := limits{total: cfg.MaxFindings, perRule: cfg.MaxPerRule}
	if l.total <= 0 {
		l.total = 60
	}
	if l.perRule <= 0 {
		l.perRule = 10
	}
	return l
}

// capper enforces per-rule and total finding limits.
type capper struct {
	limits
	perRuleSeen map[string]int
	out         []models.RawFinding
	seen        map[string]bool
}

func newCapper(l limits) *capper {
	return &capper{limits: l, perRuleSeen: make(map[string]int), seen: make(map[string]bool)}
}

// add reports false once the total limit is reached.
func (c *capper) add(f models.RawFinding) bool {
	if len(c.out) >= c.total {
		return false
	}
	key := fmt.Sprintf("%s|%s|%d", f.RuleID, f.File, f.Line)
	if c.seen[key] || c.perRuleSeen[f.RuleID] >= c.perRule {
		return true
	}
	c.seen[key] = true
	c.perRuleSeen[f.RuleID]++
	c.out = append(c.out, f)
	return len(c.out) < c.total
}

func (c *capper) full() bool { return len(c.out) >= c.total }

func (c *capper) findings() []models.RawFinding {
	if c.out == nil {
		return []models.RawFinding{}
	}
	return c.out
}
