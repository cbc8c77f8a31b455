package llm

import (
	"errors"
	"fmt"
)

// ErrRateLimit 提供商返回 429
type ErrRateLimit struct {
	Err error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrInvalidResponse 返回内容不是合法 JSON 或不满足 schema
type ErrInvalidResponse struct {
	Content string
	Err     error
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("invalid LLM response: %v", e.Err)
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }

// ErrProviderUnavailable 提供商不可达或 5xx
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LLM provider unavailable: %v", e.Err)
	}
	return "LLM provider unavailable"
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// IsTransient 判断错误是否值得稍后重试
func IsTransient(err error) bool {
	var rl *ErrRateLimit
	var pu *ErrProviderUnavailable
	return errors.As(err, &rl) || errors.As(err, &pu)
}
