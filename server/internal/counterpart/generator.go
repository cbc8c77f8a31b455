package counterpart

import (
	"context"
	"strings"
	"time"

	"care-talk/server/internal/model"
)

// Tone 反馈的语气，决定前端展示样式
type Tone string

const (
	ToneNeutral    Tone = "neutral"
	TonePositive   Tone = "positive"
	ToneCorrective Tone = "corrective"
)

// Valid 是否为已知语气
func (t Tone) Valid() bool {
	return t == ToneNeutral || t == TonePositive || t == ToneCorrective
}

// Request 生成一次对方回复所需的上下文
type Request struct {
	SessionID string
	// Latest 学习者最新的一句话（已经追加到 Transcript 末尾）
	Latest     string
	Transcript []model.ConversationTurn
	Scenario   model.Scenario
	Profile    model.CounterpartProfile
	// Checkpoint 当前检查点；全部完成时为 nil
	Checkpoint *model.Checkpoint
}

// Reply 对方的回复
type Reply struct {
	Text       string `json:"reply"`
	Feedback   string `json:"feedback"`
	Suggestion string `json:"suggestion"`
	Tone       Tone   `json:"tone"`
	// ConversationComplete 对方判断对话已经自然结束（与检查点无关）
	ConversationComplete bool   `json:"conversation_complete"`
	Insights             string `json:"insights"`
}

// Generator 回复生成器
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// GeneratorFunc 函数适配器
type GeneratorFunc func(ctx context.Context, req Request) (Reply, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Reply, error) {
	return f(ctx, req)
}

// WithTimeout 为每次生成加上超时；d<=0 时原样返回
func WithTimeout(g Generator, d time.Duration) Generator {
	if d <= 0 {
		return g
	}
	return GeneratorFunc(func(ctx context.Context, req Request) (Reply, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return g.Generate(ctx, req)
	})
}

var correctiveMarkers = []string{
	"achten sie", "besser", "fehler", "falsch", "statt", "verwenden sie", "korrigier",
	"nicht korrekt", "should", "instead", "incorrect", "wrong",
}

var positiveMarkers = []string{
	"gut", "richtig", "super", "prima", "toll", "korrekt", "weiter so", "klasse",
	"good", "great", "well done", "correct",
}

// InferTone 回复没有给出语气时，根据反馈文本推断。纠正类词优先于表扬类词。
func InferTone(feedback string) Tone {
	text := strings.ToLower(feedback)
	if strings.TrimSpace(text) == "" {
		return ToneNeutral
	}
	for _, m := range correctiveMarkers {
		if strings.Contains(text, m) {
			return ToneCorrective
		}
	}
	for _, m := range positiveMarkers {
		if strings.Contains(text, m) {
			return TonePositive
		}
	}
	return ToneNeutral
}

// normalizeReply 补全语气并清理空白
func normalizeReply(r Reply) Reply {
	r.Text = strings.TrimSpace(r.Text)
	r.Feedback = strings.TrimSpace(r.Feedback)
	r.Suggestion = strings.TrimSpace(r.Suggestion)
	r.Insights = strings.TrimSpace(r.Insights)
	if !r.Tone.Valid() {
		r.Tone = InferTone(r.Feedback)
	}
	return r
}
