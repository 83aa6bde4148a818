package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies a domain event. The set is closed: the store rejects
// anything it does not recognize, and replay treats an unknown type as
// corruption rather than skipping it.
type Type string

const (
	TypeUserMessageAdded         Type = "user_message_added"
	TypeAssistantStreamStarted   Type = "assistant_stream_started"
	TypeAssistantChunkReceived   Type = "assistant_chunk_received"
	TypeToolCallStarted          Type = "tool_call_started"
	TypeToolCallCompleted        Type = "tool_call_completed"
	TypeAssistantStreamCompleted Type = "assistant_stream_completed"
	TypeAssistantStreamFailed    Type = "assistant_stream_failed"
)

// Error classifications carried by AssistantStreamFailed.
const (
	ErrorTypeRequestError  = "request_error"
	ErrorTypeRateLimited   = "rate_limited"
	ErrorTypeToolExecution = "tool_execution_error"
	ErrorTypeTaskCrashed   = "task_crashed"
)

// Event is the append-only record of one thing that happened to a
// conversation stream. Sequence is assigned by the store at append time and
// is strictly increasing per StreamID with no gaps.
type Event struct {
	ID        string          `json:"id"`
	StreamID  string          `json:"stream_id"`
	Sequence  uint64          `json:"sequence"`
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// KnownType reports whether t is part of the closed event set.
func KnownType(t Type) bool {
	switch t {
	case TypeUserMessageAdded, TypeAssistantStreamStarted, TypeAssistantChunkReceived,
		TypeToolCallStarted, TypeToolCallCompleted, TypeAssistantStreamCompleted,
		TypeAssistantStreamFailed:
		return true
	}
	return false
}

// New creates an unsequenced event for the given stream. The payload is
// marshalled immediately so a bad payload fails at emit time, not at append.
func New(streamID string, t Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}

	return Event{
		ID:        uuid.NewString(),
		StreamID:  streamID,
		Type:      t,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}
