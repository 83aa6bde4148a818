package conversation

import (
	"time"

	"github.com/killallgit/strand/pkg/events"
)

// Status is the conversation-level turn state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusFailed    Status = "failed"
)

// MessageStatus is the per-message lifecycle state.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageStreaming MessageStatus = "streaming"
	MessageComplete  MessageStatus = "complete"
	MessageFailed    MessageStatus = "failed"
)

// StopReason records why the assistant stopped producing output.
type StopReason string

const (
	StopEndTurn StopReason = "end_turn"
	StopToolUse StopReason = "tool_use"
)

// ToolCallStatus is the lifecycle state of a single tool invocation.
type ToolCallStatus string

const (
	ToolCallStarted   ToolCallStatus = "started"
	ToolCallCompleted ToolCallStatus = "completed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Aliases into the event payload types so projections and payloads share one
// definition of the turn configuration.
type (
	ToolConfig = events.ToolConfig
	RAGSource  = events.RAGSource
)

// ToolCall is a single tool invocation owned by an assistant message.
type ToolCall struct {
	ToolUseID string         `json:"tool_use_id"`
	MessageID string         `json:"message_id"`
	ToolName  string         `json:"tool_name"`
	Input     string         `json:"input,omitempty"`
	Status    ToolCallStatus `json:"status"`
	Output    string         `json:"output,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// Message is a projected conversation message. It is mutated only by folding
// events; nothing writes to it directly.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           string        `json:"role"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	StopReason     StopReason    `json:"stop_reason,omitempty"`
	ToolConfig     *ToolConfig   `json:"tool_config,omitempty"`
	RAGSources     []RAGSource   `json:"rag_sources,omitempty"`
	ToolCalls      []ToolCall    `json:"tool_calls,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// PendingToolCalls returns the tool calls still awaiting resolution.
func (m Message) PendingToolCalls() []ToolCall {
	var pending []ToolCall
	for _, tc := range m.ToolCalls {
		if tc.Status == ToolCallStarted {
			pending = append(pending, tc)
		}
	}
	return pending
}

// Conversation is the projected read model for one event stream. StreamID is
// the event-log partition key and maps 1:1 to the conversation.
type Conversation struct {
	ID           string    `json:"id"`
	StreamID     string    `json:"stream_id"`
	Status       Status    `json:"status"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Exists reports whether the conversation has been created, i.e. holds at
// least one event's worth of state.
func (c Conversation) Exists() bool {
	return c.ID != ""
}

// ActiveMessage returns the message currently in streaming status. At most
// one message may be streaming at a time.
func (c Conversation) ActiveMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Status == MessageStreaming {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// LastUserMessage returns the most recent user message.
func (c Conversation) LastUserMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].IsUser() {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// FindMessage returns the message with the given id and its position.
func (c Conversation) FindMessage(id string) (Message, int, bool) {
	for i, msg := range c.Messages {
		if msg.ID == id {
			return msg, i, true
		}
	}
	return Message{}, -1, false
}

// FindToolCall locates a tool call by its provider-assigned id.
func (c Conversation) FindToolCall(toolUseID string) (ToolCall, bool) {
	for _, msg := range c.Messages {
		for _, tc := range msg.ToolCalls {
			if tc.ToolUseID == toolUseID {
				return tc, true
			}
		}
	}
	return ToolCall{}, false
}

// HasPendingToolCalls reports whether any started tool call is unresolved.
func (c Conversation) HasPendingToolCalls() bool {
	for _, msg := range c.Messages {
		if len(msg.PendingToolCalls()) > 0 {
			return true
		}
	}
	return false
}

// TurnToolConfig returns the tool configuration selected for the current
// turn, taken from the most recent user message.
func (c Conversation) TurnToolConfig() *ToolConfig {
	if msg, ok := c.LastUserMessage(); ok {
		return msg.ToolConfig
	}
	return nil
}
