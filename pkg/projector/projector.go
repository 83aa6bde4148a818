// Package projector materializes the conversation read model from aggregate
// state. It runs inside the same transaction as the event append, so a read
// that follows a successful Execute always observes the projected rows.
// Read-after-write consistency is a property of the transaction, not of any
// process-level synchronization.
package projector

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/killallgit/strand/pkg/conversation"
)

// Projector writes conversation/message/tool-call rows. The rows are a
// rebuildable cache of the event log: Rebuild replaces the whole projection
// for one conversation, which keeps edits-with-truncation trivially correct.
type Projector struct{}

func New() *Projector {
	return &Projector{}
}

// Rebuild replaces the projected rows for the conversation inside tx.
func (p *Projector) Rebuild(tx *sql.Tx, conv conversation.Conversation) error {
	if !conv.Exists() {
		return nil
	}

	_, err := tx.Exec(`
		INSERT INTO conversations (id, stream_id, status, system_prompt, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			system_prompt = excluded.system_prompt,
			user_id = excluded.user_id,
			updated_at = excluded.updated_at`,
		conv.ID, conv.StreamID, string(conv.Status), conv.SystemPrompt, conv.UserID,
		conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation %s: %w", conv.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM tool_calls WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`, conv.ID); err != nil {
		return fmt.Errorf("failed to clear tool call projection: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("failed to clear message projection: %w", err)
	}

	for position, msg := range conv.Messages {
		toolConfig, err := marshalNullable(msg.ToolConfig)
		if err != nil {
			return fmt.Errorf("failed to encode tool config for message %s: %w", msg.ID, err)
		}
		ragSources, err := marshalNullable(msg.RAGSources)
		if err != nil {
			return fmt.Errorf("failed to encode rag sources for message %s: %w", msg.ID, err)
		}

		_, err = tx.Exec(`
			INSERT INTO messages (id, conversation_id, position, role, content, status, stop_reason, tool_config, rag_sources, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, conv.ID, position, msg.Role, msg.Content, string(msg.Status),
			string(msg.StopReason), toolConfig, ragSources, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
		}

		for _, tc := range msg.ToolCalls {
			_, err = tx.Exec(`
				INSERT INTO tool_calls (tool_use_id, message_id, tool_name, input, status, output, is_error)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				tc.ToolUseID, msg.ID, tc.ToolName, tc.Input, string(tc.Status), tc.Output, tc.IsError)
			if err != nil {
				return fmt.Errorf("failed to insert tool call %s: %w", tc.ToolUseID, err)
			}
		}
	}

	return nil
}

func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *conversation.ToolConfig:
		if val == nil {
			return nil, nil
		}
	case []conversation.RAGSource:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
