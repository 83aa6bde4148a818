// Package provider wraps the model provider behind a single round-oriented
// contract: one StreamRound call covers one request/response exchange,
// streaming deltas to the caller and surfacing any tool invocations the
// model requested. The stream handler loops rounds until the model stops
// asking for tools.
package provider

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	"github.com/killallgit/strand/pkg/events"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is one entry of the history sent to the provider.
type Message struct {
	Role    string
	Content string

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCallRequest

	// ToolCallID and ToolName are set on tool result messages.
	ToolCallID string
	ToolName   string
}

// ToolCallRequest is a provider-issued tool invocation.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string
}

// RoundResult is the terminal outcome of one provider round.
type RoundResult struct {
	Content    string
	ToolCalls  []ToolCallRequest
	StopReason string
	Usage      *events.Usage
}

// RoundOptions selects the model and the tools offered for the round.
type RoundOptions struct {
	Model string
	Tools []llms.Tool
}

// Client is the model provider contract. Implementations must call onDelta
// for each streamed text fragment before returning the final result.
type Client interface {
	StreamRound(ctx context.Context, msgs []Message, opts RoundOptions, onDelta func(delta string) error) (*RoundResult, error)
}
