package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"care-talk/server/internal/counterpart"
	"care-talk/server/internal/llm"
	"care-talk/server/internal/model"
	"care-talk/server/internal/practice"
	"care-talk/server/internal/session"
	"care-talk/server/internal/speech"
	"care-talk/server/internal/timeline"
)

const fallID = "emergency-fall"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func fallRules() practice.Table {
	return practice.Table{
		fallID: {
			Checkpoints: []practice.CheckpointRules{
				{
					Match:       []practice.Predicate{{Any: []string{"hallo", "hören sie mich"}}},
					Guidance:    "Sprechen Sie die Patientin direkt an.",
					Suggestions: []string{"Hallo, hören Sie mich?", "Frau Schneider, können Sie mich hören?"},
				},
				{
					Match:       []practice.Predicate{{Any: []string{"hilfe", "arzt"}}},
					Guidance:    "Holen Sie Unterstützung.",
					Suggestions: []string{"Ich hole sofort Hilfe.", "Ich rufe den Arzt."},
				},
			},
			Insights: "Gut gemacht: ruhig angesprochen und Hilfe geholt.",
		},
	}
}

type harness struct {
	orch     *Orchestrator
	store    *session.InMemoryStore
	timeline *timeline.InMemoryStore
	calls    *atomic.Int32
	clock    *fakeClock
}

func newHarness(t *testing.T, gen counterpart.Generator) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)}
	calls := &atomic.Int32{}
	counted := counterpart.GeneratorFunc(func(ctx context.Context, req counterpart.Request) (counterpart.Reply, error) {
		calls.Add(1)
		return gen.Generate(ctx, req)
	})

	store := session.NewInMemoryStore()
	tl := timeline.NewInMemoryStore()
	scenario := model.Scenario{ID: fallID, Category: model.CategoryEmergency, Counterpart: model.SpeakerPatient}
	state := &model.SessionState{
		SessionID:  "s1",
		ScenarioID: fallID,
		Category:   model.CategoryEmergency,
		Checkpoints: model.CheckpointSet{
			{ID: "address", Description: "Ansprechen"},
			{ID: "call-help", Description: "Hilfe holen"},
		},
		Profile: model.CounterpartProfile{Name: "Frau Schneider", Role: model.SpeakerPatient, Voice: "nova"},
	}
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("save: %v", err)
	}
	orch := New(state, scenario, Deps{
		Store:     store,
		Timeline:  tl,
		Rules:     fallRules(),
		Generator: counted,
		Analyzer:  practice.NewAnalyzer(),
		Now:       clock.Now,
	})
	return &harness{orch: orch, store: store, timeline: tl, calls: calls, clock: clock}
}

func fixedReply(text string) counterpart.Generator {
	return counterpart.GeneratorFunc(func(context.Context, counterpart.Request) (counterpart.Reply, error) {
		return counterpart.Reply{Text: text, Tone: counterpart.ToneNeutral}, nil
	})
}

func eventTypes(t *testing.T, tl timeline.Store) []string {
	t.Helper()
	events, err := tl.List(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

// TestSubmitAppendsTimelineAndReplies 验证提交的完整流水线：先写时间线，再评估、生成回复并保存快照。
func TestSubmitAppendsTimelineAndReplies(t *testing.T) {
	h := newHarness(t, fixedReply("Oh... mein Bein tut weh."))
	ctx := context.Background()

	res, err := h.orch.Submit(ctx, "  Hallo, hören Sie mich?  ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.UserTurn.Text != "Hallo, hören Sie mich?" {
		t.Fatalf("utterance not trimmed: %q", res.UserTurn.Text)
	}
	if !res.CheckpointCompleted || res.CheckpointIndex != 0 {
		t.Fatalf("expected checkpoint 0 completed, got %+v", res)
	}
	if res.Feedback != practice.GoodUsage {
		t.Fatalf("unexpected feedback %q", res.Feedback)
	}
	if res.Reply == nil || res.ReplyTurn == nil || res.ReplyTurn.Speaker != model.SpeakerPatient {
		t.Fatalf("expected patient reply, got %+v", res)
	}

	want := []string{
		model.EventUserMessage,
		model.EventLanguageFeedback,
		model.EventCheckpointCompleted,
		model.EventAssistantText,
	}
	got := eventTypes(t, h.timeline)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	saved, err := h.store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(saved.Turns) != 2 || saved.Busy || !saved.Checkpoints[0].Completed {
		t.Fatalf("unexpected saved state: %+v", saved)
	}
	if h.orch.State() != StateIdle {
		t.Fatalf("expected idle, got %s", h.orch.State())
	}
	t.Logf("✓ timeline: %v", got)
}

func TestSubmitBlankIsRejectedWithoutChanges(t *testing.T) {
	h := newHarness(t, fixedReply("x"))
	if _, err := h.orch.Submit(context.Background(), "   \n"); !errors.Is(err, ErrBlankInput) {
		t.Fatalf("expected ErrBlankInput, got %v", err)
	}
	if n := len(eventTypes(t, h.timeline)); n != 0 {
		t.Fatalf("blank input must not append events, got %d", n)
	}
	if len(h.orch.Snapshot().Turns) != 0 {
		t.Fatal("blank input must not add a turn")
	}
}

// TestSubmitEscalatesAndBlocksReply 验证未满足检查点时逐级给出提示且不生成回复。
func TestSubmitEscalatesAndBlocksReply(t *testing.T) {
	h := newHarness(t, fixedReply("..."))
	ctx := context.Background()

	first, err := h.orch.Submit(ctx, "Was ist passiert?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.Escalation == nil || first.Escalation.Tier != model.TierGuidance {
		t.Fatalf("expected guidance tier, got %+v", first.Escalation)
	}
	if first.Escalation.Guidance != "Sprechen Sie die Patientin direkt an." {
		t.Fatalf("unexpected guidance %q", first.Escalation.Guidance)
	}
	if first.Reply != nil || h.calls.Load() != 0 {
		t.Fatal("blocked submission must not call the generator")
	}
	if h.orch.State() != StateBlocked {
		t.Fatalf("expected blocked, got %s", h.orch.State())
	}

	second, err := h.orch.Submit(ctx, "Bleiben Sie liegen.")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if second.Escalation == nil || second.Escalation.Tier != model.TierSuggestions || len(second.Escalation.Suggestions) != 2 {
		t.Fatalf("expected suggestions tier, got %+v", second.Escalation)
	}
	if h.calls.Load() != 0 {
		t.Fatal("generator must stay idle while blocked")
	}
	// 学习者自己答对时提示被清除
	third, err := h.orch.Submit(ctx, "Hallo, hören Sie mich?")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if third.Escalation != nil || !third.CheckpointCompleted || third.State.Escalation.Active() {
		t.Fatalf("expected escalation cleared after success, got %+v", third)
	}
	if h.calls.Load() != 1 {
		t.Fatalf("expected one generator call, got %d", h.calls.Load())
	}
}

// TestUseSuggestionForceCompletes 验证选用建议句子的前置条件与效果。
func TestUseSuggestionForceCompletes(t *testing.T) {
	h := newHarness(t, fixedReply("..."))
	ctx := context.Background()

	if _, err := h.orch.UseSuggestion(ctx, 0); !errors.Is(err, ErrNotBlocked) {
		t.Fatalf("expected ErrNotBlocked, got %v", err)
	}
	_, _ = h.orch.Submit(ctx, "Was ist passiert?")
	if _, err := h.orch.UseSuggestion(ctx, 0); !errors.Is(err, ErrNoSuggestion) {
		t.Fatalf("guidance tier has no suggestions, got %v", err)
	}
	_, _ = h.orch.Submit(ctx, "Bleiben Sie liegen.")
	if _, err := h.orch.UseSuggestion(ctx, 5); !errors.Is(err, ErrNoSuggestion) {
		t.Fatalf("expected ErrNoSuggestion for out-of-range index, got %v", err)
	}

	res, err := h.orch.UseSuggestion(ctx, 1)
	if err != nil {
		t.Fatalf("use suggestion: %v", err)
	}
	if res.Phrase != "Frau Schneider, können Sie mich hören?" || res.CheckpointIndex != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.State.Checkpoints[0].Completed || res.State.Escalation.Active() {
		t.Fatalf("expected checkpoint completed and escalation cleared: %+v", res.State)
	}
	if res.State.Checkpoints[0].Attempts != 2 {
		t.Fatalf("force completion must not change attempts, got %d", res.State.Checkpoints[0].Attempts)
	}
	// 句子只放入输入框，不产生新的轮次
	if len(res.State.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(res.State.Turns))
	}
	if h.orch.State() != StateIdle {
		t.Fatalf("expected idle, got %s", h.orch.State())
	}
}

// TestSubmitRejectsWhileAwaitingReply 验证回复在途时拒绝重叠提交。
func TestSubmitRejectsWhileAwaitingReply(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := counterpart.GeneratorFunc(func(ctx context.Context, req counterpart.Request) (counterpart.Reply, error) {
		close(started)
		<-release
		return counterpart.Reply{Text: "Ja... ich höre Sie."}, nil
	})
	h := newHarness(t, gen)
	ctx := context.Background()

	done := make(chan *SubmitResult, 1)
	go func() {
		res, err := h.orch.Submit(ctx, "Hallo, hören Sie mich?")
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		done <- res
	}()

	<-started
	if h.orch.State() != StateAwaitingReply {
		t.Fatalf("expected awaiting reply, got %s", h.orch.State())
	}
	if _, err := h.orch.Submit(ctx, "Noch etwas."); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := h.orch.UseSuggestion(ctx, 0); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for suggestion, got %v", err)
	}
	if n := len(h.orch.Snapshot().Turns); n != 1 {
		t.Fatalf("rejected submit must not add turns, got %d", n)
	}

	close(release)
	res := <-done
	if res == nil || res.Reply == nil {
		t.Fatal("expected reply after release")
	}
	if h.orch.State() != StateIdle {
		t.Fatalf("expected idle after reply, got %s", h.orch.State())
	}
	t.Logf("✓ overlapping submit rejected")
}

// TestSubmitReplyFailureShowsNotice 验证回复生成失败时给出通用提示，转写不变。
func TestSubmitReplyFailureShowsNotice(t *testing.T) {
	gen := counterpart.GeneratorFunc(func(context.Context, counterpart.Request) (counterpart.Reply, error) {
		return counterpart.Reply{}, &llm.ErrProviderUnavailable{}
	})
	h := newHarness(t, gen)

	res, err := h.orch.Submit(context.Background(), "Hallo, hören Sie mich?")
	if err != nil {
		t.Fatalf("failure must be a local notice, got %v", err)
	}
	if res.Notice != ReplyFailedNotice || res.Reply != nil {
		t.Fatalf("expected notice only, got %+v", res)
	}
	if len(res.State.Turns) != 1 || res.State.Busy {
		t.Fatalf("transcript must only hold the user turn: %+v", res.State)
	}
	types := eventTypes(t, h.timeline)
	if types[len(types)-1] != model.EventReplyFailed {
		t.Fatalf("expected reply_failed last, got %v", types)
	}
	if h.orch.State() != StateIdle {
		t.Fatalf("expected idle, got %s", h.orch.State())
	}
}

// TestCompletionFiresOnceAndRestartResets 验证完成事件只触发一次，重开后可再次触发。
func TestCompletionFiresOnceAndRestartResets(t *testing.T) {
	var lastReq counterpart.Request
	gen := counterpart.GeneratorFunc(func(_ context.Context, req counterpart.Request) (counterpart.Reply, error) {
		lastReq = req
		return counterpart.Reply{Text: "Danke."}, nil
	})
	h := newHarness(t, gen)
	ctx := context.Background()

	if res, _ := h.orch.Submit(ctx, "Hallo, hören Sie mich?"); res.Completion != "" {
		t.Fatal("completion must not fire early")
	}
	res, err := h.orch.Submit(ctx, "Ich hole sofort Hilfe.")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Completion != "Gut gemacht: ruhig angesprochen und Hilfe geholt." {
		t.Fatalf("expected scenario insights, got %q", res.Completion)
	}
	if lastReq.Checkpoint != nil {
		t.Fatalf("generator should see no open checkpoint, got %+v", lastReq.Checkpoint)
	}
	if h.orch.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", h.orch.State())
	}

	again, err := h.orch.Submit(ctx, "Alles gut?")
	if err != nil {
		t.Fatalf("submit after completion: %v", err)
	}
	if again.Completion != "" || again.Escalation != nil {
		t.Fatalf("completion must fire once, got %+v", again)
	}

	profileBefore := h.orch.Snapshot().Profile
	state, err := h.orch.Restart(ctx)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(state.Turns) != 0 || state.Completed || state.Checkpoints.CompletedCount() != 0 {
		t.Fatalf("restart did not reset: %+v", state)
	}
	if state.Profile != profileBefore {
		t.Fatal("restart must keep the profile")
	}

	_, _ = h.orch.Submit(ctx, "Hallo?")
	res, _ = h.orch.Submit(ctx, "Ich rufe den Arzt.")
	if res.Completion == "" {
		t.Fatal("completion should fire again after restart")
	}
}

func TestDialogueEndedSurfacedOnce(t *testing.T) {
	gen := counterpart.GeneratorFunc(func(context.Context, counterpart.Request) (counterpart.Reply, error) {
		return counterpart.Reply{Text: "Tschüss.", ConversationComplete: true, Insights: "Freundlich verabschiedet."}, nil
	})
	h := newHarness(t, gen)
	ctx := context.Background()

	first, _ := h.orch.Submit(ctx, "Hallo, hören Sie mich?")
	if first.DialogueEnded != "Freundlich verabschiedet." {
		t.Fatalf("expected dialogue end insights, got %q", first.DialogueEnded)
	}
	second, _ := h.orch.Submit(ctx, "Ich hole Hilfe.")
	if second.DialogueEnded != "" {
		t.Fatal("dialogue end must be surfaced only once")
	}
	if !second.State.DialogueEnded {
		t.Fatal("state should remember the dialogue end")
	}
}

type recordingSynth struct {
	spoken chan string
}

func (s *recordingSynth) Speak(_ context.Context, text, voice string) error {
	s.spoken <- voice + ":" + text
	return nil
}

func (s *recordingSynth) Stop() error { return nil }

func TestSubmitAutoSpeaksReply(t *testing.T) {
	h := newHarness(t, fixedReply("Mein Bein..."))
	h.orch.autoSpeak = true
	synth := &recordingSynth{spoken: make(chan string, 1)}
	h.orch.SetSpeech(speech.NewCoordinator(synth, nil))

	if _, err := h.orch.Submit(context.Background(), "Hallo, hören Sie mich?"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case got := <-synth.spoken:
		if got != "nova:Mein Bein..." {
			t.Fatalf("unexpected speech %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply was not spoken")
	}
}

// TestRestartWhilePendingKeepsSingleReplyCall 重开会取消在途的回复生成，调用返回前新提交仍被拒绝。
func TestRestartWhilePendingKeepsSingleReplyCall(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	var first atomic.Bool
	first.Store(true)
	cancelled := make(chan error, 1)

	gen := counterpart.GeneratorFunc(func(ctx context.Context, req counterpart.Request) (counterpart.Reply, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		if !first.CompareAndSwap(true, false) {
			return counterpart.Reply{Text: "Ja, ich höre Sie."}, nil
		}
		started <- struct{}{}
		<-ctx.Done()
		cancelled <- ctx.Err()
		<-release
		return counterpart.Reply{}, ctx.Err()
	})
	h := newHarness(t, gen)
	ctx := context.Background()

	done := make(chan *SubmitResult, 1)
	go func() {
		res, err := h.orch.Submit(ctx, "Hallo, hören Sie mich?")
		if err != nil {
			t.Errorf("submit: %v", err)
		}
		done <- res
	}()
	<-started

	state, err := h.orch.Restart(ctx)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if len(state.Turns) != 0 || state.Busy {
		t.Fatalf("expected reset snapshot, got %+v", state)
	}
	select {
	case err := <-cancelled:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled context, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending reply was not cancelled by restart")
	}

	if h.orch.State() != StateAwaitingReply {
		t.Fatalf("expected awaiting reply until the stale call returns, got %s", h.orch.State())
	}
	if _, err := h.orch.Submit(ctx, "Hallo, hören Sie mich?"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy while stale call is in flight, got %v", err)
	}

	close(release)
	res := <-done
	if res == nil || res.Reply != nil || res.Notice != "" {
		t.Fatalf("stale reply must be discarded silently, got %+v", res)
	}
	if n := len(h.orch.Snapshot().Turns); n != 0 {
		t.Fatalf("stale submit must not add turns after restart, got %d", n)
	}

	res, err = h.orch.Submit(ctx, "Hallo, hören Sie mich?")
	if err != nil {
		t.Fatalf("submit after stale call returned: %v", err)
	}
	if res.Reply == nil || len(res.State.Turns) != 2 {
		t.Fatalf("expected fresh reply, got %+v", res)
	}
	if m := maxInFlight.Load(); m != 1 {
		t.Fatalf("expected at most one generator call in flight, saw %d", m)
	}
	t.Logf("✓ restart cancelled pending reply, single call in flight")
}

// TestTurnOrderWithReplyFailures N 次提交、k 次失败时共有 2N−k 个轮次，按提交顺序交替。
func TestTurnOrderWithReplyFailures(t *testing.T) {
	utterances := []string{
		"Hallo, hören Sie mich?",
		"Ich hole sofort Hilfe.",
		"Bleiben Sie bitte liegen.",
		"Der Arzt kommt gleich.",
		"Ich bin bei Ihnen.",
	}
	cases := []struct {
		name    string
		outcome []bool // true = 回复成功
	}{
		{"all replies", []bool{true, true, true, true, true}},
		{"all failures", []bool{false, false, false, false, false}},
		{"alternating", []bool{true, false, true, false, true}},
		{"failures first", []bool{false, false, true, true, true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var call atomic.Int32
			gen := counterpart.GeneratorFunc(func(_ context.Context, req counterpart.Request) (counterpart.Reply, error) {
				i := int(call.Add(1)) - 1
				if !tc.outcome[i] {
					return counterpart.Reply{}, &llm.ErrProviderUnavailable{}
				}
				return counterpart.Reply{Text: "Antwort auf: " + req.Latest}, nil
			})
			h := newHarness(t, gen)

			var want []model.ConversationTurn
			failures := 0
			for i, u := range utterances {
				if _, err := h.orch.Submit(context.Background(), u); err != nil {
					t.Fatalf("submit %d: %v", i, err)
				}
				want = append(want, model.ConversationTurn{Speaker: model.SpeakerUser, Text: u})
				if tc.outcome[i] {
					want = append(want, model.ConversationTurn{Speaker: model.SpeakerPatient, Text: "Antwort auf: " + u})
				} else {
					failures++
				}
			}

			turns := h.orch.Snapshot().Turns
			if len(turns) != 2*len(utterances)-failures {
				t.Fatalf("expected %d turns, got %d", 2*len(utterances)-failures, len(turns))
			}
			for i := range want {
				if turns[i].Speaker != want[i].Speaker || turns[i].Text != want[i].Text {
					t.Fatalf("turn %d: got %s %q, want %s %q", i, turns[i].Speaker, turns[i].Text, want[i].Speaker, want[i].Text)
				}
			}
		})
	}
}
