// Package aggregate implements the conversation state machine as a pure
// decide/fold pair: Decide validates a command against the current state and
// emits events, Apply folds one event into the state. The aggregate never
// touches storage or the network; the store owns sequencing and persistence.
package aggregate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/events"
)

// ErrCommandRejected is wrapped by every rejection so callers can branch
// with errors.Is without parsing messages. A rejected command produces no
// events; the caller must re-check state before retrying.
var ErrCommandRejected = errors.New("command_rejected")

// Usage mirrors events.Usage for command construction.
type Usage = events.Usage

func reject(cmd Command, state conversation.Conversation, why string) error {
	return fmt.Errorf("%w: %s invalid while %q: %s", ErrCommandRejected, cmd.Name(), state.Status, why)
}

// Decide validates cmd against state and returns the events it produces.
// The returned slice is emitted atomically by the store: all or nothing.
func Decide(state conversation.Conversation, cmd Command) ([]events.Event, error) {
	switch c := cmd.(type) {
	case SendMessage:
		return decideSendMessage(state, c)
	case EditMessage:
		return decideEditMessage(state, c)
	case StartStream:
		return decideStartStream(state, c)
	case ReceiveChunk:
		return decideReceiveChunk(state, c)
	case StartToolCall:
		return decideStartToolCall(state, c)
	case CompleteToolCall:
		return decideCompleteToolCall(state, c)
	case CompleteStream:
		return decideCompleteStream(state, c)
	case FailStream:
		return decideFailStream(state, c)
	default:
		return nil, fmt.Errorf("%w: unknown command %T", ErrCommandRejected, cmd)
	}
}

func decideSendMessage(state conversation.Conversation, cmd SendMessage) ([]events.Event, error) {
	if state.Status == conversation.StatusStreaming {
		return nil, reject(cmd, state, "a turn is in flight")
	}
	if strings.TrimSpace(cmd.Content) == "" {
		return nil, reject(cmd, state, "message content cannot be empty")
	}
	if cmd.MessageID == "" {
		return nil, reject(cmd, state, "message id is required")
	}

	ev, err := events.New(state.StreamID, events.TypeUserMessageAdded, events.UserMessageAdded{
		MessageID:    cmd.MessageID,
		UserID:       cmd.UserID,
		Content:      strings.TrimSpace(cmd.Content),
		SystemPrompt: cmd.SystemPrompt,
		ToolConfig:   cmd.ToolConfig,
		RAGSources:   cmd.RAGSources,
	})
	if err != nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}

func decideEditMessage(state conversation.Conversation, cmd EditMessage) ([]events.Event, error) {
	if state.Status == conversation.StatusStreaming {
		return nil, reject(cmd, state, "cannot edit while a turn is in flight")
	}
	msg, _, ok := state.FindMessage(cmd.MessageID)
	if !ok {
		return nil, reject(cmd, state, fmt.Sprintf("message %s not found", cmd.MessageID))
	}
	if !msg.IsUser() {
		return nil, reject(cmd, state, "only user messages can be edited")
	}
	if strings.TrimSpace(cmd.Content) == "" {
		return nil, reject(cmd, state, "message content cannot be empty")
	}

	ev, err := events.New(state.StreamID, events.TypeUserMessageAdded, events.UserMessageAdded{
		MessageID:         cmd.MessageID,
		Content:           strings.TrimSpace(cmd.Content),
		ToolConfig:        msg.ToolConfig,
		ReplacesMessageID: cmd.MessageID,
	})
	if err != nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}

func decideStartStream(state conversation.Conversation, cmd StartStream) ([]events.Event, error) {
	if state.Status != conversation.StatusIdle {
		return nil, reject(cmd, state, "start_stream is valid only from idle")
	}
	if _, ok := state.LastUserMessage(); !ok {
		return nil, reject(cmd, state, "no user message to respond to")
	}
	if cmd.MessageID == "" {
		return nil, reject(cmd, state, "message id is required")
	}

	ev, err := events.New(state.StreamID, events.TypeAssistantStreamStarted, events.AssistantStreamStarted{
		MessageID: cmd.MessageID,
		Model:     cmd.Model,
	})
	if err != nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}

func decideReceiveChunk(state conversation.Conversation, cmd ReceiveChunk) ([]events.Event, error) {
	active, ok := requireStreaming(state)
	if !ok {
		return nil, reject(cmd, state, "no active assistant message")
	}

	ev, err := events.New(state.StreamID, events.TypeAssistantChunkReceived, events.AssistantChunkReceived{
		MessageID: active.ID,
		Delta:     cmd.Delta,
	})
	if err != nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}

func decideStartToolCall(state conversation.Conversation, cmd StartToolCall) ([]events.Event, error) {
	active, ok := requireStreaming(state)
	if !ok {
		return nil, reject(cmd, state, "no active assistant message")
	}
	if cmd.ToolUseID == "" || cmd.ToolName == "" {
		return nil, reject(cmd, state, "tool_use_id and tool_name are required")
	}
	if _, exists := state.FindToolCall(cmd.ToolUseID); exists {
		return nil, reject(cmd, state, fmt.Sprintf("tool call %s already exists", cmd.ToolUseID))
	}

	ev, err := events.New(state.StreamID, events.TypeToolCallStarted, events.ToolCallStarted{
		MessageID: active.ID,
		ToolUseID: cmd.ToolUseID,
		ToolName:  cmd.ToolName,
		Input:     cmd.Input,
	})
	if err != nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}

func decideCompleteToolCall(state conversation.Conversation, cmd CompleteToolCall) ([]events.Event, error) {
	tc, ok := state.FindToolCall(cmd.ToolUseID)
	if !ok {
		return nil, reject(cmd, state, fmt.Sprintf("tool call %s not found", cmd.ToolUseID))
	}
	if tc.Status != conversation.ToolCallStarted {
		return nil, reject(cmd, state, fmt.Sprintf("tool call %s is already %s", cmd.ToolUseID, tc.Status))
	}

	ev, err := events.New(state.StreamID, events.TypeToolCallCompleted, events.ToolCallCompleted{
		ToolUseID: cmd.ToolUseID,
		Output:    cmd.Output,
		IsError:   cmd.IsError,
	})
	if err != nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}

func decideCompleteStream(state conversation.Conversation, cmd CompleteStream) ([]events.Event, error) {
	active, ok := requireStreaming(state)
	if !ok {
		return nil, reject(cmd, state, "no active assistant message")
	}
	if len(active.PendingToolCalls()) > 0 {
		return nil, reject(cmd, state, "tool calls are still awaiting resolution")
	}

	stopReason := cmd.StopReason
	if stopReason == "" {
		stopReason = conversation.StopEndTurn
	}

	ev, err := events.New(state.StreamID, events.TypeAssistantStreamCompleted, events.AssistantStreamCompleted{
		MessageID:  active.ID,
		StopReason: string(stopReason),
		Usage:      cmd.Usage,
	})
	if err != nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}

func decideFailStream(state conversation.Conversation, cmd FailStream) ([]events.Event, error) {
	active, ok := requireStreaming(state)
	if !ok {
		return nil, reject(cmd, state, "no turn to fail")
	}
	if cmd.ErrorType == "" {
		return nil, reject(cmd, state, "error type is required")
	}

	ev, err := events.New(state.StreamID, events.TypeAssistantStreamFailed, events.AssistantStreamFailed{
		MessageID:    active.ID,
		ErrorType:    cmd.ErrorType,
		ErrorMessage: cmd.ErrorMessage,
	})
	if err != nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}

func requireStreaming(state conversation.Conversation) (conversation.Message, bool) {
	if state.Status != conversation.StatusStreaming {
		return conversation.Message{}, false
	}
	return state.ActiveMessage()
}
