package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/painscan/models"
	"github.com/tidwall/gjson"
)

// completer is the single call every provider implements.
type completer interface {
	complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// errMalformed marks a response that did not contain the expected JSON.
var errMalformed = errors.New("malformed AI response")

const explainSystem = "You are a senior engineer who explains how small code smells turn into expensive problems. Answer with JSON only."

const reviewSystem = "You are a meticulous code reviewer. Report only concrete issues you can point to by line. Answer with JSON only."

// maxReviewChars keeps single-file prompts within small model context windows.
const maxReviewChars = 24000

func explainPrompt(req ExplainRequest) string {
	return fmt.Sprintf(`A static check flagged this code.

Rule: %s (%s)
Category: %s
Severity: %s
File: %s
Snippet:
%s

Return a JSON object with:
- "title": a short headline for the problem
- "explanation": 2-3 sentences on why this matters in this file
- "fix": a concrete, minimal fix
- "timeline": an object with exactly the keys "3 months", "6 months", "1 year", "2 years",
  each one sentence describing how the cost grows if nothing changes

Respond ONLY with valid JSON, no markdown code blocks.`,
		req.RuleID, req.Title, req.Category, req.Severity, req.File, req.Snippet)
}

func reviewPrompt(req ReviewRequest) string {
	var rules strings.Builder
	for _, r := range req.Rules {
		fmt.Fprintf(&rules, "- %s: %s\n", r.ID, r.Title)
	}
	content := req.Content
	if len(content) > maxReviewChars {
		content = content[:maxReviewChars]
	}
	var numbered strings.Builder
	for i, line := range strings.Split(content, "\n") {
		fmt.Fprintf(&numbered, "%d: %s\n", i+1, line)
	}
	return fmt.Sprintf(`Review %s (%s) for the following issue types:
%s
File (line numbers prefixed):
%s
Return a JSON object {"issues": [{"rule_id": "...", "line": N, "snippet": "..."}]}.
Use only the rule ids listed above. The snippet is the offending line verbatim.
Return {"issues": []} when nothing applies.
Respond ONLY with valid JSON, no markdown code blocks.`,
		req.File, req.Language, rules.String(), numbered.String())
}

// extractJSON returns the first JSON value embedded in raw, tolerating
// markdown fences and chatter around it.
func extractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}
	if gjson.Valid(s) {
		return s, true
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", false
	}
	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}

func parseExplanation(raw string) (*Explanation, error) {
	js, ok := extractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in %q", errMalformed, truncateForError(raw, 120))
	}
	out := &Explanation{
		Title:       strings.TrimSpace(gjson.Get(js, "title").String()),
		Explanation: strings.TrimSpace(gjson.Get(js, "explanation").String()),
		Fix:         strings.TrimSpace(gjson.Get(js, "fix").String()),
	}
	gjson.Get(js, "timeline").ForEach(func(key, value gjson.Result) bool {
		out.Timeline.Set(strings.ToLower(strings.TrimSpace(key.String())), strings.TrimSpace(value.String()))
		return true
	})
	if out.Explanation == "" || out.Fix == "" {
		return nil, fmt.Errorf("%w: explanation or fix missing", errMalformed)
	}
	if !out.Timeline.Complete() {
		return nil, fmt.Errorf("%w: timeline must cover %s", errMalformed, strings.Join(models.Horizons, ", "))
	}
	return out, nil
}

func parseReview(raw string, allowed []RuleHint) ([]ReviewedIssue, error) {
	js, ok := extractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON in %q", errMalformed, truncateForError(raw, 120))
	}
	known := make(map[string]bool, len(allowed))
	for _, r := range allowed {
		known[r.ID] = true
	}
	list := gjson.Get(js, "issues")
	if !list.Exists() && gjson.Parse(js).IsArray() {
		list = gjson.Parse(js)
	}
	var out []ReviewedIssue
	list.ForEach(func(_, item gjson.Result) bool {
		issue := ReviewedIssue{
			RuleID:  strings.TrimSpace(item.Get("rule_id").String()),
			Line:    int(item.Get("line").Int()),
			Snippet: strings.TrimSpace(item.Get("snippet").String()),
		}
		if issue.RuleID == "" || issue.Line <= 0 {
			return true
		}
		if len(known) > 0 && !known[issue.RuleID] {
			return true
		}
		out = append(out, issue)
		return true
	})
	return out, nil
}

func explainWith(ctx context.Context, c completer, req ExplainRequest) (*Explanation, error) {
	resp, err := c.complete(ctx, explainSystem, explainPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseExplanation(resp)
}

func reviewWith(ctx context.Context, c completer, req ReviewRequest) ([]ReviewedIssue, error) {
	resp, err := c.complete(ctx, reviewSystem, reviewPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseReview(resp, req.Rules)
}

func truncateForError(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
