package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/painscan/internal/ai"
	"github.com/CosmoTheDev/painscan/internal/config"
)

type reviewer struct {
	mu    sync.Mutex
	files []string
	err   error
}

func (r *reviewer) Name() string                     { return "stub" }
func (r *reviewer) IsAvailable(context.Context) bool { return true }

func (r *reviewer) ExplainFinding(context.Context, ai.ExplainRequest) (*ai.Explanation, error) {
	return nil, errors.New("not used")
}

func (r *reviewer) ReviewFile(_ context.Context, req ai.ReviewRequest) ([]ai.ReviewedIssue, error) {
	r.mu.Lock()
	r.files = append(r.files, req.File)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return []ai.ReviewedIssue{
		{RuleID: "magic-sleep", Line: 2},
		{RuleID: "magic-sleep", Line: 999},
		{RuleID: "magic-sleep", Line: 0},
		{RuleID: "magic-sleep", Line: -3},
		{RuleID: "not-in-catalog", Line: 1},
	}, nil
}

var workerSource = "package worker\n\tsleepABit()\n" + strings.Repeat("// filler line for size\n", 20)

func aiRepo(t *testing.T) string {
	return writeTree(t, map[string]string{
		"worker.go": workerSource,
		"tiny.go":   "package tiny\n",
	})
}

func TestAIAnalyzerScan(t *testing.T) {
	rv := &reviewer{}
	cfg := testConfig()
	cfg.Mode = "ai"
	a, err := New(cfg, Deps{Checkouts: &fakeCheckouts{paths: []string{aiRepo(t)}}, AI: rv})
	require.NoError(t, err)

	findings, err := a.Scan(context.Background(), testRepo)
	require.NoError(t, err)
	require.Len(t, findings, 1, "out-of-range lines and unknown rules are dropped")
	assert.Equal(t, "magic-sleep", findings[0].RuleID)
	assert.Equal(t, 2, findings[0].Line)
	assert.Equal(t, "reliability", findings[0].Category)
	assert.Equal(t, "sleepABit()", findings[0].Snippet)
	assert.Equal(t, []string{"worker.go"}, rv.files, "files below the size floor are not reviewed")
}

func TestAIAnalyzerWithoutProviderIsUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "ai"
	a, err := New(cfg, Deps{Checkouts: &fakeCheckouts{paths: []string{aiRepo(t)}}})
	require.NoError(t, err)
	_, err = a.Scan(context.Background(), testRepo)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestAIAnalyzerAllFilesFail(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "ai"
	rv := &reviewer{err: &ai.StatusError{Provider: "openai", Code: 429}}
	a, err := New(cfg, Deps{Checkouts: &fakeCheckouts{paths: []string{aiRepo(t)}}, AI: rv})
	require.NoError(t, err)
	_, err = a.Scan(context.Background(), testRepo)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestHybridKeepsPatternFindingsWhenAIFails(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "hybrid"
	cfg.Hybrid = config.HybridConfig{MinSignal: 100}
	rv := &reviewer{err: errors.New("model overloaded")}
	root := fixtureRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "worker.go"), []byte(workerSource), 0o644))
	a, err := New(cfg, Deps{Checkouts: &fakeCheckouts{paths: []string{root}}, AI: rv})
	require.NoError(t, err)

	findings, err := a.Scan(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Len(t, findings, 6)
	assert.NotEmpty(t, rv.files, "policy triggered the AI pass")
}

func TestHybridSkipsAIWhenPolicyQuiet(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "hybrid"
	cfg.Hybrid = config.HybridConfig{EnhanceOn: []string{"eval-usage"}, MinSignal: 1}
	rv := &reviewer{}
	a, err := New(cfg, Deps{Checkouts: &fakeCheckouts{paths: []string{fixtureRepo(t)}}, AI: rv})
	require.NoError(t, err)

	_, err = a.Scan(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Empty(t, rv.files)
}
