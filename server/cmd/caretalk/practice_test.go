package main

import (
	"bytes"
	"strings"
	"testing"
)

func runCLI(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute %v: %v", args, err)
	}
	return out.String()
}

func TestAnalyzeCommand(t *testing.T) {
	out := runCLI(t, "", "analyze", "hast", "du", "schmerzen")
	if !strings.Contains(out, "[register]") || !strings.Contains(out, "[capitalization]") {
		t.Fatalf("expected register and capitalization issues, got:\n%s", out)
	}
}

func TestScenariosCommand(t *testing.T) {
	out := runCLI(t, "", "scenarios")
	if !strings.Contains(out, "patient-pain-assessment") {
		t.Fatalf("expected pain scenario in listing, got:\n%s", out)
	}
}

func TestPracticeREPL(t *testing.T) {
	t.Setenv("CARETALK_LLM_PROVIDER", "scripted")
	input := strings.Join([]string{
		"Ok.",
		"Ok.",
		"/use 1",
		"",
		"/hint",
		"/restart",
		"/quit",
	}, "\n")
	out := runCLI(t, input, "practice", "patient-pain-assessment")

	for _, want := range []string{"💡", "1) ", "✓ Übernommen", "Ziel 2/", "↺ Gespräch neu gestartet."} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	t.Log("✓ escalation → /use → /restart")
}
