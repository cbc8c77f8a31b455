package llm

import (
	"context"
	"sync"
)

// MockResponse MockClient 的预置响应
type MockResponse struct {
	Content string
	Err     error
}

// MockClient 按 FIFO 返回预置响应并记录所有请求，用于测试
type MockClient struct {
	mu        sync.Mutex
	responses []MockResponse
	Calls     [][]Message
	// Block 非空时 Complete 会等待它关闭（或 ctx 取消）后再返回
	Block chan struct{}
}

func NewMockClient(responses ...MockResponse) *MockClient {
	return &MockClient{responses: responses}
}

func (m *MockClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, append([]Message(nil), messages...))
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return "", &ErrProviderUnavailable{}
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	if resp.Err != nil {
		return "", resp.Err
	}
	if err := ValidateJSON(schema, resp.Content); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// AddResponse 追加一个预置响应
func (m *MockClient) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// CallCount 返回调用次数
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
