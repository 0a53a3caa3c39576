package models

import (
	"strings"
	"testing"
)

func TestSeverityForIsDeterministic(t *testing.T) {
	for _, id := range append(KnownRuleIDs(), "not-a-rule", "") {
		first := SeverityFor(id)
		for i := 0; i < 5; i++ {
			if got := SeverityFor(id); got != first {
				t.Fatalf("SeverityFor(%q) changed between calls: %s then %s", id, first, got)
			}
		}
		if first.Weight() == 0 {
			t.Fatalf("SeverityFor(%q) returned invalid level %q", id, first)
		}
	}
}

func TestSeverityForKnownRules(t *testing.T) {
	cases := map[string]SeverityLevel{
		"hardcoded-secret": SeverityCritical,
		"empty-catch":      SeverityHigh,
		"any-type":         SeverityMedium,
		"todo-comment":     SeverityLow,
		"unknown-rule":     SeverityMedium,
	}
	for id, want := range cases {
		if got := SeverityFor(id); got != want {
			t.Errorf("SeverityFor(%q) = %s, want %s", id, got, want)
		}
	}
}

func TestETAForBumpsOnLongSnippet(t *testing.T) {
	if got := ETAFor("debug-print", "console.log(x)"); got != EffortEasy {
		t.Fatalf("short snippet: got %s, want easy", got)
	}
	long := strings.Repeat("x", longSnippet+1)
	if got := ETAFor("debug-print", long); got != EffortMedium {
		t.Fatalf("long snippet: got %s, want medium", got)
	}
	if got := ETAFor("sql-injection", long); got != EffortLarge {
		t.Fatalf("long medium-effort snippet: got %s, want large", got)
	}
}

func TestMinutesSavedScalesWithEffort(t *testing.T) {
	easy := MinutesSavedFor(SeverityHigh, EffortEasy)
	large := MinutesSavedFor(SeverityHigh, EffortLarge)
	if easy <= 0 || large <= easy {
		t.Fatalf("unexpected minutes saved: easy=%d large=%d", easy, large)
	}
	if MinutesSavedFor(SeverityCritical, EffortEasy) <= MinutesSavedFor(SeverityLow, EffortEasy) {
		t.Fatal("critical findings should save more time than low ones")
	}
}

func TestMapSeverity(t *testing.T) {
	cases := map[string]SeverityLevel{
		"CRITICAL": SeverityCritical,
		"error":    SeverityHigh,
		"info":     SeverityLow,
		"whatever": SeverityMedium,
	}
	for raw, want := range cases {
		if got := MapSeverity(raw); got != want {
			t.Errorf("MapSeverity(%q) = %s, want %s", raw, got, want)
		}
	}
}
