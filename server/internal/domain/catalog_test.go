package domain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"care-talk/server/internal/model"
	"care-talk/server/internal/practice"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("load embedded catalog: %v", err)
	}
	scenarios := c.Scenarios()
	if len(scenarios) != 6 {
		t.Fatalf("expected 6 scenarios, got %d", len(scenarios))
	}
	if len(c.Categories()) != 6 {
		t.Fatalf("expected every category once, got %v", c.Categories())
	}
	for _, sc := range scenarios {
		set, err := c.NewCheckpointSet(sc.ID)
		if err != nil {
			t.Fatalf("checkpoint set for %s: %v", sc.ID, err)
		}
		for i := range set {
			if _, ok := c.Guidance(sc.ID, i); !ok {
				t.Errorf("%s checkpoint %d has no guidance", sc.ID, i)
			}
			if s, ok := c.Suggestions(sc.ID, i); !ok || len(s) < 2 {
				t.Errorf("%s checkpoint %d needs at least two suggestions", sc.ID, i)
			}
		}
		if _, ok := c.Insights(sc.ID); !ok {
			t.Errorf("%s has no insights", sc.ID)
		}
		t.Logf("✓ %s (%s): %d checkpoints", sc.ID, sc.Category, len(set))
	}
}

func TestHandoverScenarioCheckpoints(t *testing.T) {
	c := DefaultCatalog()
	sc, ok := c.Scenario("handover-late-shift")
	if !ok {
		t.Fatal("handover scenario missing")
	}
	if sc.Counterpart != model.SpeakerColleague {
		t.Fatalf("expected colleague counterpart, got %s", sc.Counterpart)
	}

	set, _ := c.NewCheckpointSet(sc.ID)
	want := []string{"id-confirm", "sbar", "medication", "incidents", "questions"}
	if len(set) != len(want) {
		t.Fatalf("expected %d checkpoints, got %d", len(want), len(set))
	}
	for i, id := range want {
		if set[i].ID != id {
			t.Fatalf("checkpoint %d: want %s got %s", i, id, set[i].ID)
		}
	}

	ev := practice.NewEvaluator(c)
	res := ev.Evaluate(sc.ID, set, "Ich übergebe Ihnen Frau Müller, Zimmer 12")
	if !res.Completed || res.Index != 0 || res.Set.CompletedCount() != 1 {
		t.Fatalf("expected only the first checkpoint completed, got %+v", res)
	}
}

func TestCatalogScriptedWalkthrough(t *testing.T) {
	c := DefaultCatalog()
	walk := map[string][]string{
		"patient-pain-assessment": {
			"Guten Morgen, ich bin Anna, Ihre Pflegekraft.",
			"Wo genau haben Sie Schmerzen?",
			"Auf einer Skala von 0 bis 10, wie stark sind die Schmerzen?",
			"Ich informiere sofort die Ärztin.",
		},
		"emergency-fall": {
			"Herr Becker, hören Sie mich?",
			"Bleiben Sie bitte ruhig liegen.",
			"Haben Sie Schmerzen am Kopf?",
			"Ich rufe jetzt Hilfe.",
		},
		"teamwork-conflict": {
			"Was ist los? Erzählen Sie mal.",
			"Ich verstehe, dass Sie verärgert sind.",
			"Wollen wir gemeinsam eine Lösung suchen?",
		},
	}
	ev := practice.NewEvaluator(c)
	for id, lines := range walk {
		set, err := c.NewCheckpointSet(id)
		if err != nil {
			t.Fatal(err)
		}
		for _, line := range lines {
			res := ev.Evaluate(id, set, line)
			if !res.Completed {
				t.Fatalf("%s: %q did not complete checkpoint %d", id, line, res.Index)
			}
			set = res.Set
		}
		if !set.AllCompleted() {
			t.Fatalf("%s: expected all checkpoints completed", id)
		}
	}
}

func TestNewCheckpointSetIsFresh(t *testing.T) {
	c := DefaultCatalog()
	a, _ := c.NewCheckpointSet("emergency-fall")
	a[0].Completed = true
	b, _ := c.NewCheckpointSet("emergency-fall")
	if b[0].Completed {
		t.Fatal("checkpoint sets must not share state")
	}
	if _, err := c.NewCheckpointSet("missing"); err == nil {
		t.Fatal("expected error for unknown scenario")
	}
}

func TestParseCatalogValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "scenarios: []", "no scenarios"},
		{"no checkpoints", `
scenarios:
  - id: a
    category: teamwork
    counterpart: colleague
`, "at least one checkpoint"},
		{"bad counterpart", `
scenarios:
  - id: a
    category: teamwork
    counterpart: user
    checkpoints: [{id: x}]
`, "invalid counterpart"},
		{"empty predicate", `
scenarios:
  - id: a
    category: teamwork
    counterpart: colleague
    checkpoints:
      - id: x
        match: [{}]
`, "predicate 0 is empty"},
		{"duplicate ids", `
scenarios:
  - {id: a, category: teamwork, counterpart: colleague, checkpoints: [{id: x}]}
  - {id: a, category: teamwork, counterpart: colleague, checkpoints: [{id: x}]}
`, "duplicate scenario id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
scenarios:
  - id: custom
    category: patient-care
    counterpart: patient
    title: Eigenes Szenario
    checkpoints:
      - id: hello
        description: Begrüßen
        match:
          - any: [hallo]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sc, ok := c.Scenario("custom")
	if !ok || sc.Title != "Eigenes Szenario" {
		t.Fatalf("unexpected scenario: %+v", sc)
	}
	if _, ok := c.Insights("custom"); ok {
		t.Fatal("custom scenario has no insights")
	}
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}
