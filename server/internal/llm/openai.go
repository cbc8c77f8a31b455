package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"care-talk/server/internal/config"
)

// OpenAIClient 基于 go-openai 的客户端，APIURL 可指向兼容 OpenAI 的服务
type OpenAIClient struct {
	client *openai.Client
	config config.LLMProviderConfig
}

// NewOpenAIClient 创建 OpenAI 客户端
func NewOpenAIClient(cfg config.LLMProviderConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIURL != "" {
		oc.BaseURL = cfg.APIURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(oc), config: cfg}, nil
}

// Complete 完成文本生成（OpenAI）
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:               c.config.Model,
		Messages:            buildOpenAIMessages(messages),
		MaxCompletionTokens: c.config.MaxTokens,
		Temperature:         float32(c.config.Temperature),
	}

	// gpt-5 / o 系列会把 token 预算消耗在 reasoning 上，content 可能为空
	if isOpenAIReasoningModel(c.config.Model) {
		req.ReasoningEffort = "low"
		req.Temperature = 0
	}

	if schema != nil {
		raw, err := json.Marshal(schema.Schema)
		if err != nil {
			return "", fmt.Errorf("marshal schema: %w", err)
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schema.Name,
				Schema: json.RawMessage(raw),
				Strict: schema.Strict,
			},
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ErrInvalidResponse{Err: fmt.Errorf("no choices in response")}
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", &ErrInvalidResponse{Err: fmt.Errorf("empty content (finish_reason=%s)", resp.Choices[0].FinishReason)}
	}
	if schema != nil {
		content = ExtractJSON(content)
	}
	if err := ValidateJSON(schema, content); err != nil {
		return "", err
	}
	return content, nil
}

func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func isOpenAIReasoningModel(model string) bool {
	return strings.HasPrefix(model, "gpt-5") || strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4")
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &ErrRateLimit{Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &ErrProviderUnavailable{Err: err}
		case apiErr.HTTPStatusCode >= 400:
			return fmt.Errorf("openai request rejected (status %d): %w", apiErr.HTTPStatusCode, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ErrProviderUnavailable{Err: err}
}
