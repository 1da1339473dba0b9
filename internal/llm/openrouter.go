package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
)

// OpenRouterClient talks to OpenRouter through its OpenAI-compatible chat
// completions API. Tool answers should stay factual, so requests run at a
// low temperature.
type OpenRouterClient struct {
	client openai.Client
}

const (
	// App attribution sent to OpenRouter when no title is configured.
	defaultAppTitle = "toolhub"

	completionTemperature = 0.2
)

// NewOpenRouterClient constructs a client with base URL and attribution
// headers.
func NewOpenRouterClient(apiKey, baseURL, referer, title string) *OpenRouterClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", referer))
	}
	opts = append(opts, option.WithHeader("X-Title", attributionTitle(title)))
	client := openai.NewClient(opts...)
	return &OpenRouterClient{client: client}
}

// attributionTitle resolves the X-Title header value for ranking on
// OpenRouter dashboards.
func attributionTitle(title string) string {
	if title == "" {
		return defaultAppTitle
	}
	return title
}

func (c *OpenRouterClient) Create(ctx context.Context, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    req.Messages,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Temperature: param.NewOpt(completionTemperature),
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, err
	}
	return parseChatCompletion(resp)
}

func (c *OpenRouterClient) Stream(ctx context.Context, req Request, onDelta func(string)) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    req.Messages,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Temperature: param.NewOpt(completionTemperature),
	}
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	var builder strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			delta := choice.Delta.Content
			if delta != "" {
				builder.WriteString(delta)
				if onDelta != nil {
					onDelta(delta)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Response{}, err
	}
	return Response{Content: builder.String()}, nil
}

func parseChatCompletion(resp *openai.ChatCompletion) (Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("model returned no choices")
	}
	msg := resp.Choices[0].Message
	response := Response{Content: msg.Content}
	for _, toolCall := range msg.ToolCalls {
		if toolCall.Type != "function" {
			continue
		}
		fn := toolCall.AsFunction()
		args := json.RawMessage(fn.Function.Arguments)
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        fn.ID,
			Name:      fn.Function.Name,
			Arguments: args,
		})
	}
	return response, nil
}
