package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/painscan/internal/ai"
	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/CosmoTheDev/painscan/internal/repository"
	"github.com/CosmoTheDev/painscan/models"
)

const testRepo = "https://github.com/acme/widgets"

type fakeCheckouts struct {
	paths    []string
	acquired atomic.Int32
	forgot   atomic.Int32
	err      error
}

func (f *fakeCheckouts) Acquire(_ context.Context, _ repository.RepoRef) (repository.Checkout, error) {
	if f.err != nil {
		return repository.Checkout{}, f.err
	}
	n := int(f.acquired.Add(1)) - 1
	if n >= len(f.paths) {
		n = len(f.paths) - 1
	}
	return repository.Checkout{Path: f.paths[n], Commit: "abc"}, nil
}

func (f *fakeCheckouts) Forget(repository.RepoRef) error {
	f.forgot.Add(1)
	return nil
}

type fakeLanguages map[string]float64

func (f fakeLanguages) Languages(context.Context, repository.RepoRef) (map[string]float64, error) {
	return f, nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func lines(ls ...string) string { return strings.Join(ls, "\n") + "\n" }

func fixtureRepo(t *testing.T) string {
	todos := make([]string, 12)
	for i := range todos {
		todos[i] = fmt.Sprintf("// TODO: item %d", i)
	}
	return writeTree(t, map[string]string{
		"app.py": lines(
			"import hashlib",
			"def handler(user_id):",
			`    cursor.execute("SELECT * FROM users WHERE id = " + user_id)`,
			"    try:",
			"        run()",
			"    except:",
			"        pass",
		),
		"main.go": lines(
			"package main",
			"",
			"func main() {",
			`	panic("boom")`,
			"}",
		),
		"src/util.js":               lines(todos...),
		"node_modules/lib/index.js": lines("eval(userInput)"),
		"package.json":              `{"dependencies": {"react": "^18.2.0", "express": "4.19.0"}}`,
	})
}

func testConfig() config.AnalyzerConfig {
	return config.AnalyzerConfig{Mode: "pattern", MaxFindings: 60, MaxPerRule: 3, AIFiles: 4, MetadataTTLSeconds: 60}
}

func TestPatternScan(t *testing.T) {
	co := &fakeCheckouts{paths: []string{fixtureRepo(t)}}
	a, err := New(testConfig(), Deps{Checkouts: co})
	require.NoError(t, err)
	assert.Equal(t, "pattern", a.Name())

	findings, err := a.Scan(context.Background(), testRepo)
	require.NoError(t, err)

	var ids []string
	for _, f := range findings {
		ids = append(ids, fmt.Sprintf("%s@%s:%d", f.RuleID, f.File, f.Line))
	}
	assert.Equal(t, []string{
		"sql-injection@app.py:3",
		"bare-except@app.py:6",
		"panic-call@main.go:4",
		"todo-comment@src/util.js:1",
		"todo-comment@src/util.js:2",
		"todo-comment@src/util.js:3",
	}, ids)
	assert.Equal(t, "security", findings[0].Category)
	assert.Equal(t, `panic("boom")`, findings[2].Snippet)
}

func TestPatternScanTotalCap(t *testing.T) {
	co := &fakeCheckouts{paths: []string{fixtureRepo(t)}}
	cfg := testConfig()
	cfg.MaxFindings = 2
	a, err := New(cfg, Deps{Checkouts: co})
	require.NoError(t, err)
	findings, err := a.Scan(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Len(t, findings, 2)
}

func TestPatternScanCleanRepoIsNotAnError(t *testing.T) {
	co := &fakeCheckouts{paths: []string{writeTree(t, map[string]string{"main.go": lines("package main")})}}
	a, err := New(testConfig(), Deps{Checkouts: co})
	require.NoError(t, err)
	findings, err := a.Scan(context.Background(), testRepo)
	require.NoError(t, err)
	assert.NotNil(t, findings)
	assert.Empty(t, findings)
}

func TestMetadata(t *testing.T) {
	co := &fakeCheckouts{paths: []string{fixtureRepo(t)}}
	a, err := New(testConfig(), Deps{Checkouts: co})
	require.NoError(t, err)

	meta, err := a.Metadata(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, []string{"JavaScript", "Python", "Go"}, meta.Languages)
	assert.Equal(t, []string{"Express", "React"}, meta.Frameworks)
	assert.Equal(t, 3, meta.TotalFiles)
	assert.Equal(t, 24, meta.TotalLines)

	_, err = a.Metadata(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, int32(1), co.acquired.Load(), "second call served from cache")
}

func TestMetadataCacheExpires(t *testing.T) {
	co := &fakeCheckouts{paths: []string{fixtureRepo(t)}}
	src := newSource(Deps{Checkouts: co}, testConfig())
	now := time.Now()
	src.now = func() time.Time { return now }

	_, err := src.Metadata(context.Background(), testRepo)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = src.Metadata(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, int32(2), co.acquired.Load())
}

func TestMetadataMergesHostLanguages(t *testing.T) {
	co := &fakeCheckouts{paths: []string{fixtureRepo(t)}}
	a, err := New(testConfig(), Deps{Checkouts: co, Languages: fakeLanguages{"Go": 9000, "Python": 100}})
	require.NoError(t, err)
	meta, err := a.Metadata(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Python", "JavaScript"}, meta.Languages)
}

func TestVanishedCheckoutIsRecloned(t *testing.T) {
	good := fixtureRepo(t)
	co := &fakeCheckouts{paths: []string{filepath.Join(t.TempDir(), "gone"), good}}
	a, err := New(testConfig(), Deps{Checkouts: co})
	require.NoError(t, err)
	findings, err := a.Scan(context.Background(), testRepo)
	require.NoError(t, err)
	assert.NotEmpty(t, findings)
	assert.Equal(t, int32(1), co.forgot.Load())
	assert.Equal(t, int32(2), co.acquired.Load())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{fmt.Errorf("clone: %w", repository.ErrNotFound), KindNotFound},
		{fmt.Errorf("x: %w", repository.ErrAuth), KindAuth},
		{fmt.Errorf("x: %w", repository.ErrRateLimited), KindRateLimited},
		{&net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindConnectivity},
		{timeoutErr{}, KindTimeout},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("Get \"https://github.com\": dial tcp: lookup github.com: no such host"), KindConnectivity},
		{ai.ErrNoAI, KindUnavailable},
		{&ai.StatusError{Provider: "openai", Code: 429}, KindRateLimited},
		{errors.New("weird"), KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(classify("scan", tc.err)), tc.err.Error())
	}
}

func TestScanErrorsAreClassified(t *testing.T) {
	co := &fakeCheckouts{err: fmt.Errorf("cloning: %w", repository.ErrNotFound)}
	a, err := New(testConfig(), Deps{Checkouts: co})
	require.NoError(t, err)

	_, err = a.Scan(context.Background(), testRepo)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = a.Metadata(context.Background(), "https://example.com/not/a/repo")
	assert.Equal(t, KindInvalidURL, KindOf(err))
}

func TestNewAndBaseline(t *testing.T) {
	_, err := New(config.AnalyzerConfig{Mode: "magic"}, Deps{})
	assert.Error(t, err)

	assert.Nil(t, Baseline(config.AnalyzerConfig{Mode: "pattern", Fallback: true}, Deps{}))
	assert.Nil(t, Baseline(config.AnalyzerConfig{Mode: "ai", Fallback: false}, Deps{}))
	b := Baseline(config.AnalyzerConfig{Mode: "ai", Fallback: true}, Deps{})
	require.NotNil(t, b)
	assert.Equal(t, "pattern", b.Name())
}

func TestPolicy(t *testing.T) {
	p := PolicyFromConfig(config.HybridConfig{EnhanceOn: []string{"sql-injection"}, MinSignal: 2})

	ok, _ := p.ShouldEnhance([]models.RawFinding{{RuleID: "sql-injection"}, {RuleID: "a"}, {RuleID: "b"}})
	assert.True(t, ok)
	ok, _ = p.ShouldEnhance([]models.RawFinding{{RuleID: "todo-comment"}})
	assert.True(t, ok)
	ok, _ = p.ShouldEnhance([]models.RawFinding{{RuleID: "todo-comment"}, {RuleID: "todo-comment"}})
	assert.False(t, ok)
}
