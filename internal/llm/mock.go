package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// MockClient is a deterministic client for tests and offline demos.
type MockClient struct {
	mu    sync.Mutex
	calls int
}

// NewMockClient returns a simple mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Create(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.calls == 1 {
		return Response{Content: "- Pick the right tool for the question\n- Run it with minimal input\n- Summarize the result"}, nil
	}
	if m.calls == 2 {
		args, _ := json.Marshal(map[string]any{"action": "convert", "value": 100.0, "from_unit": "kilometers", "to_unit": "miles"})
		return Response{ToolCalls: []ToolCall{{ID: "call_1", Name: "convert", Arguments: args}}}, nil
	}
	return Response{Content: "Summary: mock answer built from tool results. [tool:convert]"}, nil
}

func (m *MockClient) Stream(ctx context.Context, req Request, onDelta func(string)) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content := "Summary: mock answer built from tool results. [tool:convert]"
	resp := Response{Content: content}
	if onDelta != nil {
		onDelta(resp.Content)
	}
	return resp, nil
}
