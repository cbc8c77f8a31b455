package gateway

import (
	"time"

	"care-talk/server/internal/model"
)

// EventType 网关上的事件类型
type EventType string

// 客户端 → 服务端
const (
	EventHello         EventType = "hello"
	EventUserMessage   EventType = "user_message"   // 键盘输入
	EventASRPartial    EventType = "asr_partial"    // 浏览器识别的中间结果
	EventASRFinal      EventType = "asr_final"      // 浏览器识别的最终结果，触发提交
	EventUseSuggestion EventType = "use_suggestion" // 选用建议句子（Index）
	EventRestart       EventType = "restart"
	EventSTTStart      EventType = "stt_start"     // 请求开始听写；服务端同意后回发 stt_start
	EventSTTStop       EventType = "stt_stop"      // 请求停止听写；服务端回发 stt_stop
	EventTTSCompleted  EventType = "tts_completed" // 播放结束确认（PlaybackID）
)

// 服务端 → 客户端
const (
	EventState            EventType = "state"
	EventUserTurn         EventType = "user_turn"
	EventLanguageFeedback EventType = "language_feedback"
	EventEscalation       EventType = "escalation"
	EventSuggestion       EventType = "suggestion"
	EventAssistantText    EventType = "assistant_text"
	EventNotice           EventType = "notice"
	EventCompletion       EventType = "completion"
	EventDialogueEnded    EventType = "dialogue_ended"
	EventTTSPlay          EventType = "tts_play"
	EventTTSStop          EventType = "tts_stop"
	EventError            EventType = "error"
)

// ClientMessage 客户端发送给网关的消息（WebSocket 文本帧）
type ClientMessage struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id,omitempty"` // 幂等去重
	Text    string    `json:"text,omitempty"`
	// Index use_suggestion 选用的建议下标
	Index int `json:"index,omitempty"`
	// PlaybackID tts_completed 对应的播放
	PlaybackID string         `json:"playback_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ClientTS   time.Time      `json:"client_ts,omitempty"`
}

// ServerMessage 网关发送给客户端的消息。服务端合成的音频紧随 tts_play 以二进制帧发送。
type ServerMessage struct {
	Type       EventType           `json:"type"`
	Seq        int64               `json:"seq,omitempty"`
	Text       string              `json:"text,omitempty"`
	Speaker    model.Speaker       `json:"speaker,omitempty"`
	Voice      string              `json:"voice,omitempty"`
	PlaybackID string              `json:"playback_id,omitempty"`
	Format     string              `json:"format,omitempty"`
	Final      bool                `json:"final,omitempty"`
	Escalation *model.Escalation   `json:"escalation,omitempty"`
	State      *model.SessionState `json:"state,omitempty"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
	ServerTS   time.Time           `json:"server_ts"`
	Error      string              `json:"error,omitempty"`
}
