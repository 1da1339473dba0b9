package llm

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go/v3"
)

// ToolCall is one registered-tool invocation requested by the model. The
// arguments are kept raw; each tool decodes its own typed input.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Response is a single model turn: text content, tool calls, or both.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Request carries one chat completion call from the agent loop.
type Request struct {
	Model      string
	Messages   []openai.ChatCompletionMessageParamUnion
	Tools      []openai.ChatCompletionToolUnionParam
	ToolChoice openai.ChatCompletionToolChoiceOptionUnionParam
}

// Client abstracts the model backend so the agent loop can run against
// OpenRouter or the deterministic mock.
type Client interface {
	Create(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request, onDelta func(string)) (Response, error)
}
