package aggregate

import (
	"fmt"

	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/events"
)

// NewState returns the empty aggregate state for a stream.
func NewState(streamID string) conversation.Conversation {
	return conversation.Conversation{
		StreamID: streamID,
		Status:   conversation.StatusIdle,
	}
}

// Replay folds the full event log for a stream into its current state.
// Events must be supplied in append order; no event may be skipped.
func Replay(streamID string, log []events.Event) (conversation.Conversation, error) {
	state := NewState(streamID)
	for _, ev := range log {
		next, err := Apply(state, ev)
		if err != nil {
			return conversation.Conversation{}, fmt.Errorf("replay of stream %s halted at seq %d: %w", streamID, ev.Sequence, err)
		}
		state = next
	}
	return state, nil
}

// Apply folds a single event into the state. It is total over the closed
// event set and pure: the input state is not mutated.
func Apply(state conversation.Conversation, ev events.Event) (conversation.Conversation, error) {
	next := cloneState(state)
	next.UpdatedAt = ev.Timestamp

	switch ev.Type {
	case events.TypeUserMessageAdded:
		var p events.UserMessageAdded
		if err := ev.Decode(&p); err != nil {
			return state, err
		}
		applyUserMessageAdded(&next, ev, p)

	case events.TypeAssistantStreamStarted:
		var p events.AssistantStreamStarted
		if err := ev.Decode(&p); err != nil {
			return state, err
		}
		next.Status = conversation.StatusStreaming
		next.Messages = append(next.Messages, conversation.Message{
			ID:             p.MessageID,
			ConversationID: next.ID,
			Role:           conversation.RoleAssistant,
			Status:         conversation.MessageStreaming,
			CreatedAt:      ev.Timestamp,
		})

	case events.TypeAssistantChunkReceived:
		var p events.AssistantChunkReceived
		if err := ev.Decode(&p); err != nil {
			return state, err
		}
		if msg := messageByID(&next, p.MessageID); msg != nil {
			msg.Content += p.Delta
		}

	case events.TypeToolCallStarted:
		var p events.ToolCallStarted
		if err := ev.Decode(&p); err != nil {
			return state, err
		}
		if msg := messageByID(&next, p.MessageID); msg != nil {
			msg.StopReason = conversation.StopToolUse
			msg.ToolCalls = append(msg.ToolCalls, conversation.ToolCall{
				ToolUseID: p.ToolUseID,
				MessageID: p.MessageID,
				ToolName:  p.ToolName,
				Input:     p.Input,
				Status:    conversation.ToolCallStarted,
			})
		}

	case events.TypeToolCallCompleted:
		var p events.ToolCallCompleted
		if err := ev.Decode(&p); err != nil {
			return state, err
		}
		for i := range next.Messages {
			for j := range next.Messages[i].ToolCalls {
				if next.Messages[i].ToolCalls[j].ToolUseID == p.ToolUseID {
					next.Messages[i].ToolCalls[j].Status = conversation.ToolCallCompleted
					next.Messages[i].ToolCalls[j].Output = p.Output
					next.Messages[i].ToolCalls[j].IsError = p.IsError
				}
			}
		}

	case events.TypeAssistantStreamCompleted:
		var p events.AssistantStreamCompleted
		if err := ev.Decode(&p); err != nil {
			return state, err
		}
		next.Status = conversation.StatusIdle
		if msg := messageByID(&next, p.MessageID); msg != nil {
			msg.Status = conversation.MessageComplete
			if p.StopReason != "" && msg.StopReason == "" {
				msg.StopReason = conversation.StopReason(p.StopReason)
			}
		}

	case events.TypeAssistantStreamFailed:
		var p events.AssistantStreamFailed
		if err := ev.Decode(&p); err != nil {
			return state, err
		}
		next.Status = conversation.StatusFailed
		if msg := messageByID(&next, p.MessageID); msg != nil {
			msg.Status = conversation.MessageFailed
		}

	default:
		return state, fmt.Errorf("unknown event type %q", ev.Type)
	}

	return next, nil
}

// applyUserMessageAdded creates the conversation on first contact and
// handles the edit-and-resend rewind when ReplacesMessageID is set.
func applyUserMessageAdded(next *conversation.Conversation, ev events.Event, p events.UserMessageAdded) {
	if !next.Exists() {
		next.ID = ev.StreamID
		next.CreatedAt = ev.Timestamp
	}
	if p.UserID != "" {
		next.UserID = p.UserID
	}
	if p.SystemPrompt != "" {
		next.SystemPrompt = p.SystemPrompt
	}

	// A new user message resolves a failed turn.
	next.Status = conversation.StatusIdle

	if p.ReplacesMessageID != "" {
		if _, idx, ok := next.FindMessage(p.ReplacesMessageID); ok {
			next.Messages = next.Messages[:idx]
		}
	}

	next.Messages = append(next.Messages, conversation.Message{
		ID:             p.MessageID,
		ConversationID: next.ID,
		Role:           conversation.RoleUser,
		Content:        p.Content,
		Status:         conversation.MessageComplete,
		ToolConfig:     p.ToolConfig,
		RAGSources:     p.RAGSources,
		CreatedAt:      ev.Timestamp,
	})
}

func messageByID(c *conversation.Conversation, id string) *conversation.Message {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i]
		}
	}
	return nil
}

func cloneState(state conversation.Conversation) conversation.Conversation {
	next := state
	next.Messages = make([]conversation.Message, len(state.Messages))
	copy(next.Messages, state.Messages)
	for i := range next.Messages {
		if len(next.Messages[i].ToolCalls) > 0 {
			calls := make([]conversation.ToolCall, len(next.Messages[i].ToolCalls))
			copy(calls, next.Messages[i].ToolCalls)
			next.Messages[i].ToolCalls = calls
		}
	}
	return next
}
