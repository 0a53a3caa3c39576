package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CosmoTheDev/painscan/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	err   error
	calls int
}

func (s *stubProvider) Name() string                     { return s.name }
func (s *stubProvider) IsAvailable(context.Context) bool { return s.err == nil }

func (s *stubProvider) ExplainFinding(context.Context, ExplainRequest) (*Explanation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Explanation{Title: s.name}, nil
}

func (s *stubProvider) ReviewFile(context.Context, ReviewRequest) ([]ReviewedIssue, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []ReviewedIssue{{RuleID: "todo-comment", Line: 1}}, nil
}

func TestChainFailsOver(t *testing.T) {
	primary := &stubProvider{name: "openai", err: &StatusError{Provider: "openai", Code: 503}}
	backup := &stubProvider{name: "ollama"}
	chain := NewChain([]AIProvider{primary, backup})

	exp, err := chain.ExplainFinding(context.Background(), ExplainRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ollama", exp.Title)
	current, fallback := chain.CurrentProvider()
	assert.Equal(t, "ollama", current)
	assert.True(t, fallback)
}

func TestChainBreakerOpensAfterThreshold(t *testing.T) {
	primary := &stubProvider{name: "openai", err: &StatusError{Provider: "openai", Code: 500}}
	backup := &stubProvider{name: "ollama"}
	chain := NewChain([]AIProvider{primary, backup})

	for i := 0; i < failureThreshold+2; i++ {
		_, err := chain.ReviewFile(context.Background(), ReviewRequest{})
		require.NoError(t, err)
	}
	assert.Equal(t, failureThreshold, primary.calls)

	now := time.Now().Add(resetTimeout + time.Second)
	chain.breakers["openai"].now = func() time.Time { return now }
	primary.err = nil
	exp, err := chain.ExplainFinding(context.Background(), ExplainRequest{})
	require.NoError(t, err)
	assert.Equal(t, "openai", exp.Title)
}

func TestChainAuthErrorTripsImmediately(t *testing.T) {
	primary := &stubProvider{name: "anthropic", err: &StatusError{Provider: "anthropic", Code: 401}}
	backup := &stubProvider{name: "ollama"}
	chain := NewChain([]AIProvider{primary, backup})

	_, _ = chain.ExplainFinding(context.Background(), ExplainRequest{})
	_, _ = chain.ExplainFinding(context.Background(), ExplainRequest{})
	assert.Equal(t, 1, primary.calls)
}

func TestChainAllFail(t *testing.T) {
	boom := errors.New("boom")
	chain := NewChain([]AIProvider{&stubProvider{name: "a", err: boom}, &stubProvider{name: "b", err: boom}})
	_, err := chain.ExplainFinding(context.Background(), ExplainRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestNewWithoutKeysIsNoop(t *testing.T) {
	p, err := New(config.AIConfig{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, "none", p.Name())
	_, err = p.ExplainFinding(context.Background(), ExplainRequest{})
	assert.ErrorIs(t, err, ErrNoAI)

	_, err = New(config.AIConfig{Provider: "bard"})
	assert.Error(t, err)
}
