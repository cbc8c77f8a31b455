package counterpart

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"care-talk/server/internal/actor"
	"care-talk/server/internal/llm"
	"care-talk/server/internal/model"
)

// defaultHistoryTurns 发送给模型的最近轮次数
const defaultHistoryTurns = 16

// replySchema 严格模式要求 required 覆盖全部 properties
var replySchema = &llm.JSONSchema{
	Name: "counterpart_reply",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reply": map[string]any{
				"type":        "string",
				"description": "Antwort der gespielten Person, auf Deutsch",
			},
			"feedback": map[string]any{
				"type":        "string",
				"description": "Ein Satz Feedback zur Sprache der Pflegekraft",
			},
			"suggestion": map[string]any{
				"type":        "string",
				"description": "Eine bessere Formulierung oder leer",
			},
			"tone": map[string]any{
				"type": "string",
				"enum": []string{string(TonePositive), string(ToneCorrective), string(ToneNeutral)},
			},
			"conversation_complete": map[string]any{"type": "boolean"},
			"insights": map[string]any{
				"type":        "string",
				"description": "Kurzes Fazit, nur wenn das Gespräch beendet ist",
			},
		},
		"required":             []string{"reply", "feedback", "suggestion", "tone", "conversation_complete", "insights"},
		"additionalProperties": false,
	},
	Strict: true,
}

// LLMGenerator 通过 LLM 扮演对话对象
type LLMGenerator struct {
	client       llm.Client
	actor        *actor.ActorEngine
	maxSentences int
	historyTurns int
}

func NewLLMGenerator(client llm.Client, engine *actor.ActorEngine, maxSentences int) *LLMGenerator {
	return &LLMGenerator{
		client:       client,
		actor:        engine,
		maxSentences: maxSentences,
		historyTurns: defaultHistoryTurns,
	}
}

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	messages := g.buildMessages(req)

	response, err := g.client.Complete(ctx, messages, replySchema)
	if err != nil {
		return Reply{}, fmt.Errorf("LLM complete: %w", err)
	}

	var reply Reply
	if err := json.Unmarshal([]byte(llm.ExtractJSON(response)), &reply); err != nil {
		return Reply{}, fmt.Errorf("unmarshal LLM response: %w", err)
	}
	reply = normalizeReply(reply)
	if reply.Text == "" {
		return Reply{}, fmt.Errorf("empty reply from LLM")
	}
	return reply, nil
}

func (g *LLMGenerator) buildMessages(req Request) []llm.Message {
	areq := actor.ActorRequest{
		SessionID:    req.SessionID,
		Scenario:     req.Scenario,
		Profile:      req.Profile,
		LastUserText: req.Latest,
		TurnCount:    len(req.Transcript),
		MaxSentences: g.maxSentences,
	}
	if req.Checkpoint != nil {
		areq.Objective = req.Checkpoint.Description
	}

	prompt, err := g.actor.BuildPrompt(areq)
	if err == nil {
		err = g.actor.Validate(prompt)
	}
	if err != nil {
		log.Printf("[Counterpart] ⚠️ prompt build failed, using fallback: %v", err)
		prompt = g.actor.BuildFallbackPrompt(areq)
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: prompt.Instructions}}

	turns := req.Transcript
	if len(turns) > g.historyTurns {
		turns = turns[len(turns)-g.historyTurns:]
	}
	for _, t := range turns {
		role := llm.RoleUser
		if t.Speaker.IsCounterpart() {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Text})
	}

	// 转写里没有最新一句时补上
	if len(turns) == 0 || turns[len(turns)-1].Speaker != model.SpeakerUser || turns[len(turns)-1].Text != req.Latest {
		if req.Latest != "" {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Latest})
		}
	}
	return messages
}
