package practice

import (
	"testing"

	"care-talk/server/internal/model"
)

const handoverID = "handover-late-shift"

// handoverTable 交接班场景：[ID 确认, SBAR, 用药, 事件, 提问]。
func handoverTable() Table {
	return Table{
		handoverID: {
			Checkpoints: []CheckpointRules{
				{
					Match: []Predicate{
						{Any: []string{"übergebe", "übergabe"}, MinWords: 3},
						{Any: []string{"zimmer"}, All: []string{"frau"}},
						{Any: []string{"zimmer"}, All: []string{"herr"}},
					},
					Guidance:    "Nennen Sie zuerst Name und Zimmer der Patientin.",
					Suggestions: []string{"Ich übergebe Ihnen Frau Müller aus Zimmer 12.", "Es geht um Frau Müller, Zimmer 12."},
				},
				{
					Match: []Predicate{{Any: []string{"aufgenommen", "diagnose", "situation", "hintergrund"}}},
				},
				{
					Match: []Predicate{{Any: []string{"medikament", "tablette", "mg", "insulin"}}},
				},
				{
					Match: []Predicate{{Any: []string{"sturz", "vorfall", "keine besonderen", "ereignis"}}},
				},
				{
					Match: []Predicate{{Any: []string{"fragen", "unklar"}}},
				},
			},
			Insights: "Sie haben strukturiert übergeben.",
		},
	}
}

func handoverSet() model.CheckpointSet {
	return model.CheckpointSet{
		{ID: "id-confirm", Description: "Patientin identifizieren"},
		{ID: "sbar", Description: "Situation und Hintergrund"},
		{ID: "medication", Description: "Medikation"},
		{ID: "incidents", Description: "Besondere Vorkommnisse"},
		{ID: "questions", Description: "Rückfragen ermöglichen"},
	}
}

func TestEvaluateCompletesFirstCheckpointOnly(t *testing.T) {
	ev := NewEvaluator(handoverTable())
	set := handoverSet()

	res := ev.Evaluate(handoverID, set, "Ich übergebe Ihnen Frau Müller, Zimmer 12")
	if !res.Completed {
		t.Fatalf("expected checkpoint completed, got %+v", res)
	}
	if res.Index != 0 || res.Tier != model.TierNone {
		t.Fatalf("expected index 0 tier none, got index=%d tier=%v", res.Index, res.Tier)
	}
	if !res.Set[0].Completed || res.Set[0].Attempts != 1 {
		t.Fatalf("unexpected first checkpoint: %+v", res.Set[0])
	}
	for i := 1; i < len(res.Set); i++ {
		if res.Set[i].Completed || res.Set[i].Attempts != 0 {
			t.Fatalf("checkpoint %d should be untouched, got %+v", i, res.Set[i])
		}
	}
	// 输入集合不被修改
	if set[0].Completed || set[0].Attempts != 0 {
		t.Fatalf("input set mutated: %+v", set[0])
	}
}

func TestEvaluateEscalatesTierPerFailedAttempt(t *testing.T) {
	ev := NewEvaluator(handoverTable())
	set := handoverSet()

	first := ev.Evaluate(handoverID, set, "Hallo, guten Abend.")
	if first.Completed || first.Tier != model.TierGuidance {
		t.Fatalf("expected tier 1 after first miss, got %+v", first)
	}
	if !first.Blocked() {
		t.Fatal("expected blocked evaluation")
	}

	second := ev.Evaluate(handoverID, first.Set, "Wie war Ihr Tag?")
	if second.Completed || second.Tier != model.TierSuggestions {
		t.Fatalf("expected tier 2 after second miss, got %+v", second)
	}
	if second.Set[0].Attempts != 2 || second.Set[0].Completed {
		t.Fatalf("expected attempts=2 incomplete, got %+v", second.Set[0])
	}

	third := ev.Evaluate(handoverID, second.Set, "Schönes Wetter heute.")
	if third.Tier != model.TierSuggestions {
		t.Fatalf("tier must stay at 2, got %v", third.Tier)
	}
}

func TestEvaluateNoOpWhenAllCompleted(t *testing.T) {
	ev := NewEvaluator(handoverTable())
	set := handoverSet()
	for i := range set {
		set[i].Completed = true
	}

	res := ev.Evaluate(handoverID, set, "Noch etwas?")
	if !res.NoOp || res.Index != -1 || res.Blocked() {
		t.Fatalf("expected no-op, got %+v", res)
	}
	for i := range res.Set {
		if res.Set[i].Attempts != 0 {
			t.Fatalf("attempts must not change on no-op: %+v", res.Set[i])
		}
	}
}

func TestEvaluateEmptySetIsNoOp(t *testing.T) {
	ev := NewEvaluator(nil)
	res := ev.Evaluate("unknown", nil, "Hallo")
	if !res.NoOp {
		t.Fatalf("expected no-op for empty set, got %+v", res)
	}
}

func TestEvaluateFallbackHeuristicWithoutRules(t *testing.T) {
	ev := NewEvaluator(Table{})
	set := model.CheckpointSet{{ID: "greet"}}

	short := ev.Evaluate("unknown", set, "Hallo")
	if short.Completed {
		t.Fatal("short utterance should not satisfy the length heuristic")
	}
	long := ev.Evaluate("unknown", set, "Guten Morgen, ich bin heute Ihre Pflegekraft.")
	if !long.Completed {
		t.Fatal("expected length heuristic to complete the checkpoint")
	}
}

func TestEvaluateInvariantsOverSequence(t *testing.T) {
	ev := NewEvaluator(handoverTable())
	set := handoverSet()
	utterances := []string{
		"Guten Abend.",
		"Ich übergebe Ihnen Frau Müller, Zimmer 12.",
		"Sie wurde gestern aufgenommen, Diagnose Pneumonie.",
		"Hm.",
		"Sie bekommt 5 mg Bisoprolol.",
		"Keine besonderen Vorkommnisse.",
		"Haben Sie noch Fragen?",
		"Danke.",
	}

	prev := set
	for _, u := range utterances {
		res := ev.Evaluate(handoverID, prev, u)
		flipped := 0
		for i := range prev {
			if prev[i].Completed && !res.Set[i].Completed {
				t.Fatalf("checkpoint %d reverted to incomplete", i)
			}
			if !prev[i].Completed && res.Set[i].Completed {
				flipped++
			}
			if res.Set[i].Attempts < prev[i].Attempts {
				t.Fatalf("attempts decreased on checkpoint %d", i)
			}
			if i != res.Index && res.Set[i].Attempts != prev[i].Attempts {
				t.Fatalf("attempts changed on non-current checkpoint %d", i)
			}
		}
		if flipped > 1 {
			t.Fatalf("more than one checkpoint completed in one call (%q)", u)
		}
		prev = res.Set
	}
	if !prev.AllCompleted() {
		t.Fatalf("expected all checkpoints completed, got %+v", prev)
	}
}

func TestForceCompleteAdvancesCurrent(t *testing.T) {
	set := handoverSet()
	set[0].Attempts = 2

	next, idx, ok := ForceComplete(set)
	if !ok || idx != 0 {
		t.Fatalf("expected force completion of index 0, got idx=%d ok=%v", idx, ok)
	}
	if !next[0].Completed || next[0].Attempts != 2 {
		t.Fatalf("unexpected checkpoint after force: %+v", next[0])
	}
	if next.Current() != 1 {
		t.Fatalf("expected current pointer at 1, got %d", next.Current())
	}

	for i := range next {
		next[i].Completed = true
	}
	if _, _, ok := ForceComplete(next); ok {
		t.Fatal("expected no-op when everything is complete")
	}
}

func TestTierFor(t *testing.T) {
	cases := []struct {
		attempts int
		want     model.EscalationTier
	}{
		{0, model.TierNone},
		{1, model.TierGuidance},
		{2, model.TierSuggestions},
		{7, model.TierSuggestions},
	}
	for _, tc := range cases {
		if got := TierFor(tc.attempts); got != tc.want {
			t.Errorf("TierFor(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestPredicateMatch(t *testing.T) {
	cases := []struct {
		name string
		p    Predicate
		text string
		want bool
	}{
		{"any hit", Predicate{Any: []string{"schmerz"}}, "haben sie schmerzen?", true},
		{"any miss", Predicate{Any: []string{"schmerz"}}, "guten tag", false},
		{"all requires every term", Predicate{All: []string{"frau", "zimmer"}}, "frau müller", false},
		{"min words", Predicate{Any: []string{"übergebe"}, MinWords: 3}, "ich übergebe", false},
		{"min chars", Predicate{MinChars: 10}, "kurz", false},
		{"empty never matches", Predicate{}, "alles", false},
		{"upper-case terms", Predicate{Any: []string{"Zimmer"}}, "zimmer 12", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.Match(tc.text); got != tc.want {
				t.Fatalf("Match(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
