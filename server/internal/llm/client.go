package llm

import (
	"context"
	"fmt"

	"care-talk/server/internal/config"
)

// Client LLM 客户端接口
type Client interface {
	// Complete 完成文本生成任务；schema 非空时返回经过校验的 JSON 文本
	Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error)
}

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 消息结构
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// JSONSchema JSON Schema 定义（用于结构化输出）
type JSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

// NewClient 根据配置创建 LLM 客户端；scripted 模式不需要客户端，返回 nil
func NewClient(cfg *config.Config) (Client, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		c, err := NewOpenAIClient(cfg.LLM.OpenAI)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderAnthropic:
		c, err := NewAnthropicClient(cfg.LLM.Anthropic)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderScripted:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}

// splitSystem 分离 system 消息（Anthropic 需要单独传入）
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
