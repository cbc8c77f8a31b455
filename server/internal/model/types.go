package model

import "time"

// Category 场景类别，决定对话对象的人设与检查点集合。
type Category string

const (
	CategoryPatientCare    Category = "patient-care"
	CategoryEmergency      Category = "emergency"
	CategoryHandover       Category = "handover"
	CategoryElderlyCare    Category = "elderly-care"
	CategoryDisabilityCare Category = "disability-care"
	CategoryTeamwork       Category = "teamwork"
)

// Speaker 对话中的发言方。
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerPatient   Speaker = "patient"
	SpeakerColleague Speaker = "colleague"
	SpeakerDoctor    Speaker = "doctor"
)

// IsCounterpart 判断是否为模拟对象（非学习者）。
func (s Speaker) IsCounterpart() bool {
	return s == SpeakerPatient || s == SpeakerColleague || s == SpeakerDoctor
}

// Scenario 定义一个练习场景。加载后不可变。
type Scenario struct {
	ID          string   `json:"id" yaml:"id"`
	Category    Category `json:"category" yaml:"category"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	// Counterpart 场景中的模拟对象角色（patient/colleague/doctor）。
	Counterpart Speaker `json:"counterpart" yaml:"counterpart"`
}

// Checkpoint 场景中的一个沟通目标。
type Checkpoint struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	Attempts    int    `json:"attempts"`
}

// CheckpointSet 有序的检查点列表，顺序即要求的完成顺序。
type CheckpointSet []Checkpoint

// Current 返回第一个未完成的检查点下标；全部完成时返回 -1。
func (s CheckpointSet) Current() int {
	for i, cp := range s {
		if !cp.Completed {
			return i
		}
	}
	return -1
}

// AllCompleted 是否所有检查点都已完成。空集合视为未完成。
func (s CheckpointSet) AllCompleted() bool {
	return len(s) > 0 && s.Current() == -1
}

// CompletedCount 已完成的检查点数量。
func (s CheckpointSet) CompletedCount() int {
	n := 0
	for _, cp := range s {
		if cp.Completed {
			n++
		}
	}
	return n
}

// Clone 返回深拷贝，评估器只在副本上修改。
func (s CheckpointSet) Clone() CheckpointSet {
	if s == nil {
		return nil
	}
	out := make(CheckpointSet, len(s))
	copy(out, s)
	return out
}

// Reset 返回所有检查点清零后的副本（仅用于显式重开）。
func (s CheckpointSet) Reset() CheckpointSet {
	out := s.Clone()
	for i := range out {
		out[i].Completed = false
		out[i].Attempts = 0
	}
	return out
}

// ConversationTurn 表示对话中的一个轮次。只追加，不修改。
type ConversationTurn struct {
	Speaker     Speaker   `json:"speaker"`
	Text        string    `json:"text"`
	Translation string    `json:"translation,omitempty"`
	TS          time.Time `json:"ts"`
}

// CounterpartProfile 模拟对象的人设，会话内保持不变。
type CounterpartProfile struct {
	Name       string  `json:"name"`
	Age        int     `json:"age"`
	Gender     string  `json:"gender"`
	Condition  string  `json:"condition"`
	Mood       string  `json:"mood"`
	Background string  `json:"background"`
	Role       Speaker `json:"role"`
	Avatar     string  `json:"avatar"`
	Voice      string  `json:"voice"`
}

// EscalationTier 支持升级层级。
type EscalationTier int

const (
	TierNone        EscalationTier = 0 // 无提示
	TierGuidance    EscalationTier = 1 // 展示引导文本
	TierSuggestions EscalationTier = 2 // 展示可直接使用的句子
)

func (t EscalationTier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierGuidance:
		return "guidance"
	case TierSuggestions:
		return "suggestions"
	default:
		return "unknown"
	}
}

// Escalation 当前检查点的提示状态（None | Guidance(text) | Suggestions(options)）。
// 检查点推进时必须清空。
type Escalation struct {
	Tier            EscalationTier `json:"tier"`
	CheckpointIndex int            `json:"checkpoint_index"`
	Guidance        string         `json:"guidance,omitempty"`
	Suggestions     []string       `json:"suggestions,omitempty"`
}

// Active 是否处于提示状态（会阻塞回复生成）。
func (e Escalation) Active() bool {
	return e.Tier > TierNone
}

// SessionState 保存一次练习会话的全部状态。只存在于内存中。
type SessionState struct {
	SessionID  string   `json:"session_id"`
	ScenarioID string   `json:"scenario_id"`
	Category   Category `json:"category"`

	// 对话轮次，只追加。
	Turns []ConversationTurn `json:"turns"`
	// 检查点进度。
	Checkpoints CheckpointSet `json:"checkpoints"`
	// 当前检查点的提示状态。
	Escalation Escalation `json:"escalation"`
	// Busy 为 true 时有一个回复生成请求在途。
	Busy bool `json:"busy"`

	// 检查点全部完成后的一次性完成事件。
	Completed          bool   `json:"completed"`
	CompletionInsights string `json:"completion_insights,omitempty"`
	// 回复生成方独立判断的自然结束（与检查点完成无关）。
	DialogueEnded    bool   `json:"dialogue_ended"`
	DialogueInsights string `json:"dialogue_insights,omitempty"`

	Profile CounterpartProfile `json:"profile"`
	// 最近一次语言反馈。
	LastFeedback string `json:"last_feedback,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone 返回可安全对外暴露的快照。
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = append([]ConversationTurn(nil), s.Turns...)
	out.Checkpoints = s.Checkpoints.Clone()
	out.Escalation.Suggestions = append([]string(nil), s.Escalation.Suggestions...)
	return &out
}

// Event 表示时间线中的一个事件。
type Event struct {
	// Seq 由后端分配的单调序号，用于回放与幂等。
	Seq int64 `json:"seq,omitempty"`
	// SessionID 由编排器补齐。
	SessionID string `json:"session_id,omitempty"`
	// EventID 用于去重与重试幂等。
	EventID string `json:"event_id,omitempty"`

	// Type 事件类型（user_message/assistant_text/checkpoint_completed/...）。
	Type string `json:"type"`
	// Speaker 文本类事件的发言方。
	Speaker Speaker `json:"speaker,omitempty"`
	Text    string  `json:"text,omitempty"`
	// CheckpointIndex/Tier 承载检查点与提示事件。
	CheckpointIndex int            `json:"checkpoint_index,omitempty"`
	Tier            EscalationTier `json:"tier,omitempty"`

	ClientTS time.Time `json:"client_ts,omitempty"`
	ServerTS time.Time `json:"server_ts,omitempty"`
}

// 时间线事件类型。
const (
	EventUserMessage         = "user_message"
	EventLanguageFeedback    = "language_feedback"
	EventCheckpointCompleted = "checkpoint_completed"
	EventEscalation          = "escalation"
	EventSuggestionUsed      = "suggestion_used"
	EventAssistantText       = "assistant_text"
	EventReplyFailed         = "reply_failed"
	EventCompletion          = "completion"
	EventDialogueEnded       = "dialogue_ended"
	EventRestart             = "restart"
)

// CreateSessionResponse 是创建会话的响应结构体。
type CreateSessionResponse struct {
	SessionID string        `json:"session_id"`
	Scenario  Scenario      `json:"scenario"`
	State     *SessionState `json:"state"`
}
