package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"care-talk/server/internal/counterpart"
	"care-talk/server/internal/llm"
	"care-talk/server/internal/model"
	"care-talk/server/internal/observe"
	"care-talk/server/internal/practice"
	"care-talk/server/internal/session"
	"care-talk/server/internal/speech"
	"care-talk/server/internal/timeline"
)

var (
	ErrBlankInput   = errors.New("utterance is blank")
	ErrBusy         = errors.New("a reply is still being generated")
	ErrNotBlocked   = errors.New("no escalation is active")
	ErrNoSuggestion = errors.New("suggestion not available")
)

// ReplyFailedNotice 回复生成失败时展示给学习者的通用提示。
const ReplyFailedNotice = "Die Antwort konnte gerade nicht erzeugt werden. Bitte versuchen Sie es noch einmal."

// State 编排器对外可见的状态。
type State string

const (
	StateIdle          State = "idle"
	StateBlocked       State = "blocked"
	StateAwaitingReply State = "awaiting_reply"
	StateCompleted     State = "completed"
)

// Deps 编排器的协作方。Store/Timeline/Generator 必填，其余可选。
type Deps struct {
	Store     session.Store
	Timeline  timeline.Store
	Rules     practice.RuleBook
	Generator counterpart.Generator
	// Analyzer 为 nil 时不做语言反馈
	Analyzer *practice.Analyzer
	Metrics  *observe.Metrics
	Now      func() time.Time
	// AutoSpeak 回复成功后通过 speech.Coordinator 朗读
	AutoSpeak bool
}

// SubmitResult 一次提交的全部可见输出。
type SubmitResult struct {
	UserTurn model.ConversationTurn `json:"user_turn"`
	// Feedback 语言反馈；关闭分析时为空
	Feedback string `json:"feedback,omitempty"`

	CheckpointCompleted bool `json:"checkpoint_completed"`
	CheckpointIndex     int  `json:"checkpoint_index"`
	// Escalation 非 nil 表示本次被阻塞，没有生成回复
	Escalation *model.Escalation `json:"escalation,omitempty"`

	Reply     *counterpart.Reply      `json:"reply,omitempty"`
	ReplyTurn *model.ConversationTurn `json:"reply_turn,omitempty"`
	// Notice 回复生成失败时的提示
	Notice string `json:"notice,omitempty"`

	// Completion 本次触发的一次性完成总结
	Completion    string `json:"completion,omitempty"`
	DialogueEnded string `json:"dialogue_ended,omitempty"`

	State *model.SessionState `json:"state"`
}

// SuggestionResult 选用建议句子的输出。
type SuggestionResult struct {
	// Phrase 放入输入框的句子，不会自动发送
	Phrase          string              `json:"phrase"`
	CheckpointIndex int                 `json:"checkpoint_index"`
	Completion      string              `json:"completion,omitempty"`
	State           *model.SessionState `json:"state"`
}

// Orchestrator 一个练习会话的编排器。
//
// 职责与契约：
// - append-first：任何输入先写 Timeline，再做 reduce，保证可回放与幂等。
// - 状态由互斥锁保护；回复生成是唯一的挂起点，调用期间不持锁，Busy 拒绝重叠提交。
// - 输入错误（ErrBlankInput/ErrBusy/ErrNotBlocked/ErrNoSuggestion）不修改任何状态。
type Orchestrator struct {
	mu       sync.Mutex
	state    *model.SessionState
	scenario model.Scenario
	// epoch 每次重开加一，用于丢弃重开前发出的回复
	epoch int
	// inflight 生成器调用是否仍在进行；重开后 Busy 被清空，但调用返回前仍拒绝新提交
	inflight    bool
	cancelReply context.CancelFunc

	store     session.Store
	timeline  timeline.Store
	generator counterpart.Generator
	evaluator *practice.Evaluator
	escalator *practice.Escalator
	analyzer  *practice.Analyzer
	detector  *practice.CompletionDetector
	metrics   *observe.Metrics
	now       func() time.Time

	autoSpeak bool
	speech    *speech.Coordinator
}

// New 接管 state（调用方不应再修改它）。
func New(state *model.SessionState, scenario model.Scenario, deps Deps) *Orchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		state:     state,
		scenario:  scenario,
		store:     deps.Store,
		timeline:  deps.Timeline,
		generator: deps.Generator,
		evaluator: practice.NewEvaluator(deps.Rules),
		escalator: practice.NewEscalator(deps.Rules),
		analyzer:  deps.Analyzer,
		detector:  practice.NewCompletionDetector(deps.Rules, scenario.ID),
		metrics:   deps.Metrics,
		now:       deps.Now,
		autoSpeak: deps.AutoSpeak,
	}
}

// SessionID 会话 ID
func (o *Orchestrator) SessionID() string {
	return o.state.SessionID
}

// Scenario 会话的场景
func (o *Orchestrator) Scenario() model.Scenario {
	return o.scenario
}

// SetSpeech 绑定语音协调器（网关连接时设置，断开时传 nil）。
func (o *Orchestrator) SetSpeech(c *speech.Coordinator) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.speech = c
}

// Snapshot 返回状态副本
func (o *Orchestrator) Snapshot() *model.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// State 当前状态
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

func (o *Orchestrator) stateLocked() State {
	switch {
	case o.state.Busy, o.inflight:
		return StateAwaitingReply
	case o.state.Escalation.Active():
		return StateBlocked
	case o.state.Completed:
		return StateCompleted
	default:
		return StateIdle
	}
}

// Submit 处理学习者的一句话。
func (o *Orchestrator) Submit(ctx context.Context, utterance string) (*SubmitResult, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return nil, ErrBlankInput
	}

	o.mu.Lock()
	if o.state.Busy || o.inflight {
		o.mu.Unlock()
		return nil, ErrBusy
	}

	now := o.now()
	// append-first：先写事实，再归约快照，避免“说了但没记”。
	userEvt := model.Event{Type: model.EventUserMessage, Speaker: model.SpeakerUser, Text: text, ClientTS: now}
	if err := o.applyLocked(ctx, userEvt, now); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	res := &SubmitResult{UserTurn: o.state.Turns[len(o.state.Turns)-1], CheckpointIndex: -1}

	if o.analyzer != nil {
		res.Feedback = o.analyzer.Analyze(text)
		if err := o.applyLocked(ctx, model.Event{Type: model.EventLanguageFeedback, Text: res.Feedback}, now); err != nil {
			o.mu.Unlock()
			return nil, err
		}
	}

	eval := o.evaluator.Evaluate(o.scenario.ID, o.state.Checkpoints, text)
	o.state.Checkpoints = eval.Set
	res.CheckpointIndex = eval.Index

	if eval.Completed {
		res.CheckpointCompleted = true
		if err := o.completeCheckpointLocked(ctx, eval.Index, false, now); err != nil {
			o.mu.Unlock()
			return nil, err
		}
		res.Completion = o.detectCompletionLocked(ctx, now)
	}

	if eval.Blocked() {
		esc := o.escalator.Escalate(eval.Tier, o.scenario.ID, eval.Index)
		o.state.Escalation = esc
		escEvt := model.Event{Type: model.EventEscalation, CheckpointIndex: eval.Index, Tier: esc.Tier, Text: esc.Guidance}
		if err := o.applyLocked(ctx, escEvt, now); err != nil {
			o.mu.Unlock()
			return nil, err
		}
		o.metrics.RecordEscalation(ctx, o.scenario.ID, esc.Tier.String())
		o.metrics.RecordSubmission(ctx, o.scenario.ID, "blocked")
		log.Printf("[Orchestrator] 🚧 session=%s checkpoint=%d tier=%s", o.state.SessionID, eval.Index, esc.Tier)

		escCopy := esc
		escCopy.Suggestions = append([]string(nil), esc.Suggestions...)
		res.Escalation = &escCopy
		err := o.saveLocked(ctx)
		res.State = o.state.Clone()
		o.mu.Unlock()
		return res, err
	}

	// 未阻塞：清掉遗留提示（例如上一轮的提示在本轮被满足）
	o.state.Escalation = model.Escalation{}
	o.state.Busy = true
	if err := o.saveLocked(ctx); err != nil {
		o.state.Busy = false
		o.mu.Unlock()
		return nil, err
	}
	req := o.requestLocked(text)
	epoch := o.epoch
	genCtx, cancel := context.WithCancel(ctx)
	o.inflight = true
	o.cancelReply = cancel
	o.mu.Unlock()

	reply, genErr := o.generate(genCtx, req)
	cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight = false
	o.cancelReply = nil
	if epoch != o.epoch {
		// 生成期间会话被重开，丢弃这次回复
		log.Printf("[Orchestrator] ⚠️ session=%s discard reply after restart", o.state.SessionID)
		res.State = o.state.Clone()
		return res, nil
	}
	o.state.Busy = false
	now = o.now()

	if genErr != nil {
		log.Printf("[Orchestrator] ❌ session=%s reply failed: %v", o.state.SessionID, genErr)
		res.Notice = ReplyFailedNotice
		o.metrics.RecordSubmission(ctx, o.scenario.ID, "failed")
		if err := o.applyLocked(ctx, model.Event{Type: model.EventReplyFailed, Text: ReplyFailedNotice}, now); err != nil {
			return nil, err
		}
		err := o.saveLocked(ctx)
		res.State = o.state.Clone()
		return res, err
	}

	replyEvt := model.Event{Type: model.EventAssistantText, Speaker: o.counterpartLocked(), Text: reply.Text}
	if err := o.applyLocked(ctx, replyEvt, now); err != nil {
		return nil, err
	}
	turn := o.state.Turns[len(o.state.Turns)-1]
	res.Reply = &reply
	res.ReplyTurn = &turn
	o.metrics.RecordSubmission(ctx, o.scenario.ID, "replied")

	if reply.ConversationComplete && !o.state.DialogueEnded {
		insights := reply.Insights
		if insights == "" {
			insights = practice.DefaultInsights
		}
		if err := o.applyLocked(ctx, model.Event{Type: model.EventDialogueEnded, Text: insights}, now); err != nil {
			return nil, err
		}
		res.DialogueEnded = insights
		log.Printf("[Orchestrator] 🏁 session=%s dialogue ended", o.state.SessionID)
	}

	if err := o.saveLocked(ctx); err != nil {
		return nil, err
	}
	res.State = o.state.Clone()

	if o.autoSpeak && o.speech != nil {
		go o.speak(context.WithoutCancel(ctx), o.speech, reply.Text, o.state.Profile.Voice)
	}
	return res, nil
}

// UseSuggestion 选用第 index 个建议句子：直接完成当前检查点并返回句子供填入输入框。
func (o *Orchestrator) UseSuggestion(ctx context.Context, index int) (*SuggestionResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Busy || o.inflight {
		return nil, ErrBusy
	}
	esc := o.state.Escalation
	if !esc.Active() {
		return nil, ErrNotBlocked
	}
	if esc.Tier != model.TierSuggestions || index < 0 || index >= len(esc.Suggestions) {
		return nil, ErrNoSuggestion
	}

	next, idx, ok := practice.ForceComplete(o.state.Checkpoints)
	if !ok {
		return nil, ErrNotBlocked
	}
	phrase := esc.Suggestions[index]
	now := o.now()

	o.state.Checkpoints = next
	if err := o.applyLocked(ctx, model.Event{Type: model.EventSuggestionUsed, Text: phrase, CheckpointIndex: idx}, now); err != nil {
		return nil, err
	}
	if err := o.completeCheckpointLocked(ctx, idx, true, now); err != nil {
		return nil, err
	}
	res := &SuggestionResult{
		Phrase:          phrase,
		CheckpointIndex: idx,
		Completion:      o.detectCompletionLocked(ctx, now),
	}
	if err := o.saveLocked(ctx); err != nil {
		return nil, err
	}
	res.State = o.state.Clone()
	log.Printf("[Orchestrator] 💡 session=%s suggestion used checkpoint=%d", o.state.SessionID, idx)
	return res, nil
}

// Restart 清空进度重新开始；人设保持不变。
func (o *Orchestrator) Restart(ctx context.Context) (*model.SessionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.epoch++
	if o.cancelReply != nil {
		// 在途调用被取消，返回前 inflight 仍为 true
		o.cancelReply()
	}
	o.detector.Reset()
	if err := o.applyLocked(ctx, model.Event{Type: model.EventRestart}, o.now()); err != nil {
		return nil, err
	}
	if err := o.saveLocked(ctx); err != nil {
		return nil, err
	}
	if o.speech != nil {
		_ = o.speech.StopSpeaking()
	}
	log.Printf("[Orchestrator] 🔄 session=%s restarted", o.state.SessionID)
	return o.state.Clone(), nil
}

// applyLocked 追加事件到 timeline 后归约到状态。
func (o *Orchestrator) applyLocked(ctx context.Context, evt model.Event, now time.Time) error {
	evt.SessionID = o.state.SessionID
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	evt.ServerTS = now
	if _, err := o.timeline.Append(ctx, o.state.SessionID, &evt); err != nil {
		return fmt.Errorf("append %s: %w", evt.Type, err)
	}
	Reduce(o.state, evt, now)
	return nil
}

func (o *Orchestrator) saveLocked(ctx context.Context) error {
	if err := o.store.Save(ctx, o.state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (o *Orchestrator) completeCheckpointLocked(ctx context.Context, idx int, forced bool, now time.Time) error {
	evt := model.Event{Type: model.EventCheckpointCompleted, CheckpointIndex: idx}
	if idx >= 0 && idx < len(o.state.Checkpoints) {
		evt.Text = o.state.Checkpoints[idx].ID
	}
	if err := o.applyLocked(ctx, evt, now); err != nil {
		return err
	}
	o.metrics.RecordCheckpoint(ctx, o.scenario.ID, forced)
	log.Printf("[Orchestrator] ✅ session=%s checkpoint=%d completed (%d/%d)",
		o.state.SessionID, idx, o.state.Checkpoints.CompletedCount(), len(o.state.Checkpoints))
	return nil
}

// detectCompletionLocked 每次检查点变化后调用，只在首次全部完成时返回总结。
func (o *Orchestrator) detectCompletionLocked(ctx context.Context, now time.Time) string {
	insights, fired := o.detector.Check(o.state.Checkpoints, len(o.state.Turns) > 0)
	if !fired {
		return ""
	}
	if err := o.applyLocked(ctx, model.Event{Type: model.EventCompletion, Text: insights}, now); err != nil {
		// timeline 写失败时仍然在状态上记下完成
		log.Printf("[Orchestrator] ⚠️ session=%s record completion: %v", o.state.SessionID, err)
		o.state.Completed = true
		o.state.CompletionInsights = insights
	}
	o.metrics.Completions.Add(ctx, 1, metric.WithAttributes(attribute.String("scenario", o.scenario.ID)))
	log.Printf("[Orchestrator] 🎉 session=%s all checkpoints completed", o.state.SessionID)
	return insights
}

func (o *Orchestrator) counterpartLocked() model.Speaker {
	if o.state.Profile.Role.IsCounterpart() {
		return o.state.Profile.Role
	}
	if o.scenario.Counterpart.IsCounterpart() {
		return o.scenario.Counterpart
	}
	return model.SpeakerPatient
}

func (o *Orchestrator) requestLocked(latest string) counterpart.Request {
	req := counterpart.Request{
		SessionID:  o.state.SessionID,
		Latest:     latest,
		Transcript: append([]model.ConversationTurn(nil), o.state.Turns...),
		Scenario:   o.scenario,
		Profile:    o.state.Profile,
	}
	if idx := o.state.Checkpoints.Current(); idx >= 0 {
		cp := o.state.Checkpoints[idx]
		req.Checkpoint = &cp
	}
	return req
}

// generate 调用回复生成器，记录耗时与 span。不持锁。
func (o *Orchestrator) generate(ctx context.Context, req counterpart.Request) (counterpart.Reply, error) {
	ctx, span := observe.StartSpan(ctx, "counterpart.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("scenario.id", req.Scenario.ID),
		attribute.Int("transcript.turns", len(req.Transcript)),
	)

	start := time.Now()
	reply, err := o.generator.Generate(ctx, req)
	o.metrics.ReplyDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("scenario", req.Scenario.ID)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.ReplyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", failureKind(err))))
		return counterpart.Reply{}, err
	}
	if strings.TrimSpace(reply.Text) == "" {
		err := errors.New("empty reply")
		span.SetStatus(codes.Error, err.Error())
		o.metrics.ReplyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "invalid")))
		return counterpart.Reply{}, err
	}
	return reply, nil
}

func (o *Orchestrator) speak(ctx context.Context, c *speech.Coordinator, text, voice string) {
	err := c.Speak(ctx, text, voice)
	switch {
	case err == nil, errors.Is(err, speech.ErrInterrupted):
	case errors.Is(err, speech.ErrListening):
		log.Printf("[Orchestrator] 🔇 session=%s skip speech while listening", o.state.SessionID)
	default:
		log.Printf("[Orchestrator] ⚠️ session=%s speak: %v", o.state.SessionID, err)
	}
}

func failureKind(err error) string {
	var invalid *llm.ErrInvalidResponse
	switch {
	case llm.IsTransient(err):
		return "transient"
	case errors.As(err, &invalid):
		return "invalid"
	default:
		return "other"
	}
}
