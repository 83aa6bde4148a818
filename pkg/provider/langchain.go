package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/killallgit/strand/pkg/events"
	"github.com/killallgit/strand/pkg/logger"
)

// LangChainClient implements Client over a langchaingo llms.Model.
type LangChainClient struct {
	llm     llms.Model
	model   string
	timeout time.Duration
}

// NewOllamaClient builds a LangChainClient against an Ollama endpoint.
func NewOllamaClient(baseURL, model string, timeout time.Duration) (*LangChainClient, error) {
	var opts []ollama.Option
	if baseURL != "" {
		opts = append(opts, ollama.WithServerURL(baseURL))
	}
	if model != "" {
		opts = append(opts, ollama.WithModel(model))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	return &LangChainClient{llm: llm, model: model, timeout: timeout}, nil
}

// NewLangChainClient wraps an already constructed model, used by tests and
// alternative providers.
func NewLangChainClient(llm llms.Model, model string, timeout time.Duration) *LangChainClient {
	return &LangChainClient{llm: llm, model: model, timeout: timeout}
}

// StreamRound implements Client.
func (c *LangChainClient) StreamRound(ctx context.Context, msgs []Message, opts RoundOptions, onDelta func(delta string) error) (*RoundResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	history := toLangChainMessages(msgs)

	callOpts := []llms.CallOption{
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onDelta(string(chunk))
		}),
	}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	if len(opts.Tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(opts.Tools))
	}

	response, err := c.llm.GenerateContent(ctx, history, callOpts...)
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	choice := response.Choices[0]
	result := &RoundResult{
		Content:    choice.Content,
		StopReason: choice.StopReason,
		Usage:      usageFromChoice(choice),
	}

	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		id := tc.ID
		if id == "" {
			// Some providers (ollama among them) omit call ids.
			id = uuid.NewString()
		}
		result.ToolCalls = append(result.ToolCalls, ToolCallRequest{
			ID:        id,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}

	logger.Debug("Provider round finished: %d tool calls, stop reason %q",
		len(result.ToolCalls), result.StopReason)
	return result, nil
}

func toLangChainMessages(msgs []Message) []llms.MessageContent {
	history := make([]llms.MessageContent, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			history = append(history, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))

		case RoleUser:
			history = append(history, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))

		case RoleAssistant:
			content := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if msg.Content != "" {
				content.Parts = append(content.Parts, llms.TextContent{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content.Parts = append(content.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			history = append(history, content)

		case RoleTool:
			history = append(history, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: msg.ToolCallID,
						Name:       msg.ToolName,
						Content:    msg.Content,
					},
				},
			})
		}
	}
	return history
}

func usageFromChoice(choice *llms.ContentChoice) *events.Usage {
	if choice.GenerationInfo == nil {
		return nil
	}
	usage := &events.Usage{
		PromptTokens:     intFromInfo(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: intFromInfo(choice.GenerationInfo, "CompletionTokens"),
	}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		return nil
	}
	return usage
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

var _ Client = (*LangChainClient)(nil)
