package aggregate

import "github.com/killallgit/strand/pkg/conversation"

// Command is one of the closed set of conversation commands. Implementations
// carry any caller-minted identifiers (message ids, tool_use_ids) so that the
// resulting events are fully determined by the command itself.
type Command interface {
	// Name returns the wire name of the command, used in rejection errors
	// and logs.
	Name() string
}

// SendMessage appends a user message. Valid when the conversation is idle,
// failed (a new message resolves the failed turn), or not yet created.
type SendMessage struct {
	MessageID    string
	UserID       string
	Content      string
	SystemPrompt string
	ToolConfig   *conversation.ToolConfig
	RAGSources   []conversation.RAGSource
}

func (SendMessage) Name() string { return "send_message" }

// EditMessage amends an existing user message and rewinds the stream: every
// message strictly after the edited one is truncated. Valid only while not
// streaming.
type EditMessage struct {
	MessageID string
	Content   string
}

func (EditMessage) Name() string { return "edit_message" }

// StartStream opens an assistant turn. Valid only from idle.
type StartStream struct {
	MessageID string
	Model     string
}

func (StartStream) Name() string { return "start_stream" }

// ReceiveChunk appends a streamed delta to the active assistant message.
type ReceiveChunk struct {
	Delta string
}

func (ReceiveChunk) Name() string { return "receive_chunk" }

// StartToolCall records a model-requested tool invocation on the active turn.
type StartToolCall struct {
	ToolUseID string
	ToolName  string
	Input     string
}

func (StartToolCall) Name() string { return "start_tool_call" }

// CompleteToolCall resolves a started tool call with its output. IsError
// marks a rejected or failed execution fed back to the model as a failure
// result.
type CompleteToolCall struct {
	ToolUseID string
	Output    string
	IsError   bool
}

func (CompleteToolCall) Name() string { return "complete_tool_call" }

// CompleteStream terminates the turn successfully. Valid only while
// streaming with no tool call left in started status.
type CompleteStream struct {
	StopReason conversation.StopReason
	Usage      *Usage
}

func (CompleteStream) Name() string { return "complete_stream" }

// FailStream terminates the turn with a classified error. Valid from
// streaming, including mid tool-round.
type FailStream struct {
	ErrorType    string
	ErrorMessage string
}

func (FailStream) Name() string { return "fail_stream" }
