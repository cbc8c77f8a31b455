package practice

import (
	"strings"
	"testing"
)

func TestAnalyzeFlagsLowercaseNouns(t *testing.T) {
	a := NewAnalyzer()

	issues := a.Inspect("Der patient hat schmerzen.")
	if len(issues) != 1 || issues[0].Kind != IssueCapitalization {
		t.Fatalf("expected one capitalization issue, got %+v", issues)
	}
	msg := issues[0].Message
	if !strings.Contains(msg, "patient → Patient") || !strings.Contains(msg, "schmerzen → Schmerzen") {
		t.Fatalf("unexpected message: %q", msg)
	}
	t.Logf("✓ %s", msg)
}

func TestAnalyzeGoodUsage(t *testing.T) {
	a := NewAnalyzer()
	if got := a.Analyze("Guten Morgen, Frau Müller. Wie geht es Ihnen heute?"); got != GoodUsage {
		t.Fatalf("expected good usage, got %q", got)
	}
}

func TestAnalyzeInformalRegister(t *testing.T) {
	a := NewAnalyzer()
	issues := a.Inspect("Wie geht es dir?")
	if len(issues) != 1 || issues[0].Kind != IssueRegister {
		t.Fatalf("expected register issue, got %+v", issues)
	}
	if issues[0].Terms[0] != "dir" {
		t.Fatalf("unexpected terms: %v", issues[0].Terms)
	}
}

func TestAnalyzeMissingPunctuationAndFillers(t *testing.T) {
	a := NewAnalyzer()
	issues := a.Inspect("Ähm ich bringe gleich das Essen")
	kinds := make(map[IssueKind]bool)
	for _, i := range issues {
		kinds[i.Kind] = true
	}
	if !kinds[IssuePunctuation] || !kinds[IssueFiller] {
		t.Fatalf("expected punctuation and filler issues, got %+v", issues)
	}
	if kinds[IssueCapitalization] {
		t.Fatalf("unexpected capitalization issue: %+v", issues)
	}
}

func TestAnalyzeLongSentence(t *testing.T) {
	a := NewAnalyzer()
	long := strings.Repeat("Wort ", 30) + "Ende."
	issues := a.Inspect(long)
	found := false
	for _, i := range issues {
		if i.Kind == IssueSentenceLength {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sentence length issue, got %+v", issues)
	}

	// 多句话时不检查句长
	multi := strings.Repeat("Wort ", 30) + "Ende. Danke."
	for _, i := range a.Inspect(multi) {
		if i.Kind == IssueSentenceLength {
			t.Fatal("sentence length only applies to single sentences")
		}
	}
}

func TestAnalyzeJoinsMessagesWithNewline(t *testing.T) {
	a := NewAnalyzer()
	got := a.Analyze("hast du schmerzen")
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 feedback lines, got %q", got)
	}
}

func TestAnalyzeBlank(t *testing.T) {
	a := NewAnalyzer()
	if issues := a.Inspect("   "); issues != nil {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestPunctuationAcceptsClosingQuotesAndBrackets(t *testing.T) {
	a := NewAnalyzer()
	cases := []struct {
		text string
		want bool // true = 报告缺少标点
	}{
		{"Die Patientin sagte: „Hallo.“", false},
		{"Sie liegt im Zimmer (Zimmer 12.)", false},
		{"Er fragte: \"Wo ist der Arzt?\"", false},
		{"Sie sagte „Hallo“", true},
		{"(Zimmer 12)", true},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got := false
			for _, issue := range a.Inspect(tc.text) {
				if issue.Kind == IssuePunctuation {
					got = true
				}
			}
			if got != tc.want {
				t.Fatalf("punctuation issue for %q = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
