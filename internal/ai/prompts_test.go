package ai

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodExplanation = `{
  "title": "Secret in source",
  "explanation": "The key ships with every clone.",
  "fix": "Load it from the environment.",
  "timeline": {
    "3 months": "Copied into two services.",
    "6 months": "Found in a fork.",
    "1 year": "Rotated during an incident.",
    "2 years": "Still in git history."
  }
}`

func TestExtractJSONToleratesFencesAndChatter(t *testing.T) {
	cases := map[string]string{
		"bare":    `{"a":1}`,
		"fenced":  "```json\n{\"a\":1}\n```",
		"chatter": "Sure! Here you go: {\"a\":1} Hope this helps.",
		"array":   "result: [1,2]",
	}
	for name, raw := range cases {
		got, ok := extractJSON(raw)
		assert.True(t, ok, name)
		assert.NotEmpty(t, got, name)
	}
	_, ok := extractJSON("no json here")
	assert.False(t, ok)
}

func TestParseExplanation(t *testing.T) {
	exp, err := parseExplanation("```json\n" + goodExplanation + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Secret in source", exp.Title)
	assert.Equal(t, "Load it from the environment.", exp.Fix)
	assert.True(t, exp.Timeline.Complete())
	assert.Equal(t, "Still in git history.", exp.Timeline.TwoYears)
}

func TestParseExplanationRejectsIncompleteTimeline(t *testing.T) {
	_, err := parseExplanation(`{"explanation":"x","fix":"y","timeline":{"3 months":"a"}}`)
	assert.True(t, errors.Is(err, errMalformed))

	_, err = parseExplanation("I cannot help with that.")
	assert.True(t, errors.Is(err, errMalformed))
}

func TestParseReviewFiltersUnknownRulesAndBadLines(t *testing.T) {
	raw := `{"issues":[
	  {"rule_id":"eval-usage","line":4,"snippet":"eval(x)"},
	  {"rule_id":"made-up","line":5,"snippet":"?"},
	  {"rule_id":"eval-usage","line":0,"snippet":"eval(y)"}
	]}`
	issues, err := parseReview(raw, []RuleHint{{ID: "eval-usage", Title: "Eval"}})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, ReviewedIssue{RuleID: "eval-usage", Line: 4, Snippet: "eval(x)"}, issues[0])
}

func TestParseReviewAcceptsTopLevelArray(t *testing.T) {
	issues, err := parseReview(`[{"rule_id":"todo-comment","line":2,"snippet":"// TODO"}]`, nil)
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestReviewPromptNumbersLines(t *testing.T) {
	p := reviewPrompt(ReviewRequest{File: "a.py", Language: "Python", Content: "x = 1\ny = 2", Rules: []RuleHint{{ID: "bare-except", Title: "Bare except"}}})
	assert.Contains(t, p, "1: x = 1")
	assert.Contains(t, p, "2: y = 2")
	assert.Contains(t, p, "- bare-except: Bare except")
}
