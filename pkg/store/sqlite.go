package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/killallgit/strand/pkg/aggregate"
	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/events"
	"github.com/killallgit/strand/pkg/logger"
	"github.com/killallgit/strand/pkg/projector"
	"github.com/killallgit/strand/pkg/pubsub"
)

// SQLiteStore implements Store over a single sqlite database holding both
// the append-only event log and the projected read model.
type SQLiteStore struct {
	db        *sql.DB
	projector *projector.Projector
	broker    *pubsub.Broker

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dsn and runs migrations.
// broker may be nil when no subscriber delivery is needed (tests, tooling).
func NewSQLiteStore(dsn string, broker *pubsub.Broker) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The per-stream mutexes already serialize writers; a single
	// connection keeps sqlite itself out of busy-retry territory.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		projector: projector.New(),
		broker:    broker,
		locks:     make(map[string]*sync.Mutex),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			stream_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			event_id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			data TEXT,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (stream_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			system_prompt TEXT,
			user_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			stop_reason TEXT,
			tool_config TEXT,
			rag_sources TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, position)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			tool_use_id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			input TEXT,
			status TEXT NOT NULL,
			output TEXT,
			is_error INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (message_id) REFERENCES messages(id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// streamLock returns the single-writer mutex for a stream.
func (s *SQLiteStore) streamLock(streamID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, exists := s.locks[streamID]
	if !exists {
		lock = &sync.Mutex{}
		s.locks[streamID] = lock
	}
	return lock
}

// Execute implements Store. The full event batch and the projection update
// commit in one transaction; subscribers are notified only after commit.
func (s *SQLiteStore) Execute(ctx context.Context, streamID string, cmd aggregate.Command) (conversation.Conversation, []events.Event, error) {
	lock := s.streamLock(streamID)
	lock.Lock()
	defer lock.Unlock()

	log, err := s.GetEvents(ctx, streamID, 0)
	if err != nil {
		return conversation.Conversation{}, nil, err
	}
	state, err := aggregate.Replay(streamID, log)
	if err != nil {
		return conversation.Conversation{}, nil, err
	}

	emitted, err := aggregate.Decide(state, cmd)
	if err != nil {
		return conversation.Conversation{}, nil, err
	}

	nextSeq := uint64(1)
	if n := len(log); n > 0 {
		nextSeq = log[n-1].Sequence + 1
	}

	newState := state
	for i := range emitted {
		emitted[i].Sequence = nextSeq
		nextSeq++
		newState, err = aggregate.Apply(newState, emitted[i])
		if err != nil {
			return conversation.Conversation{}, nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return conversation.Conversation{}, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ev := range emitted {
		_, err := tx.Exec(`
			INSERT INTO events (stream_id, sequence, event_id, type, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ev.StreamID, ev.Sequence, ev.ID, string(ev.Type), string(ev.Data), ev.Timestamp)
		if err != nil {
			return conversation.Conversation{}, nil, fmt.Errorf("failed to append event %s: %w", ev.Type, err)
		}
	}

	if err := s.projector.Rebuild(tx, newState); err != nil {
		return conversation.Conversation{}, nil, err
	}

	if err := tx.Commit(); err != nil {
		return conversation.Conversation{}, nil, fmt.Errorf("failed to commit events: %w", err)
	}

	logger.Debug("Applied %s to stream %s (%d events, status %s)",
		cmd.Name(), streamID, len(emitted), newState.Status)

	if s.broker != nil && len(emitted) > 0 {
		s.broker.Publish(streamID, emitted...)
	}

	return newState, emitted, nil
}

// GetEvents implements Store.
func (s *SQLiteStore) GetEvents(ctx context.Context, streamID string, afterSeq uint64) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, sequence, type, data, created_at
		FROM events WHERE stream_id = ? AND sequence > ?
		ORDER BY sequence ASC`, streamID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read events for stream %s: %w", streamID, err)
	}
	defer rows.Close()

	var log []events.Event
	for rows.Next() {
		var (
			ev        events.Event
			eventType string
			data      sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Sequence, &eventType, &data, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.StreamID = streamID
		ev.Type = events.Type(eventType)
		if !events.KnownType(ev.Type) {
			return nil, fmt.Errorf("event log for stream %s contains unknown type %q", streamID, eventType)
		}
		if data.Valid {
			ev.Data = json.RawMessage(data.String)
		}
		log = append(log, ev)
	}
	return log, rows.Err()
}

// GetConversation implements Store. The projection is authoritative for
// reads; a missing row means the conversation was never created.
func (s *SQLiteStore) GetConversation(ctx context.Context, streamID string) (conversation.Conversation, error) {
	var (
		conv         conversation.Conversation
		systemPrompt sql.NullString
		userID       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, stream_id, status, system_prompt, user_id, created_at, updated_at
		FROM conversations WHERE stream_id = ?`, streamID).
		Scan(&conv.ID, &conv.StreamID, (*string)(&conv.Status), &systemPrompt, &userID, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return conversation.Conversation{}, nil
	}
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("failed to read conversation %s: %w", streamID, err)
	}
	conv.SystemPrompt = systemPrompt.String
	conv.UserID = userID.String

	msgs, err := s.readMessages(ctx, conv.ID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	conv.Messages = msgs
	return conv, nil
}

func (s *SQLiteStore) readMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, status, stop_reason, tool_config, rag_sources, created_at
		FROM messages WHERE conversation_id = ? ORDER BY position ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var (
			msg        conversation.Message
			stopReason sql.NullString
			toolConfig sql.NullString
			ragSources sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, (*string)(&msg.Status),
			&stopReason, &toolConfig, &ragSources, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.ConversationID = conversationID
		msg.StopReason = conversation.StopReason(stopReason.String)
		if toolConfig.Valid && toolConfig.String != "" {
			cfg := &conversation.ToolConfig{}
			if err := json.Unmarshal([]byte(toolConfig.String), cfg); err != nil {
				return nil, fmt.Errorf("failed to decode tool config for message %s: %w", msg.ID, err)
			}
			msg.ToolConfig = cfg
		}
		if ragSources.Valid && ragSources.String != "" {
			if err := json.Unmarshal([]byte(ragSources.String), &msg.RAGSources); err != nil {
				return nil, fmt.Errorf("failed to decode rag sources for message %s: %w", msg.ID, err)
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range msgs {
		calls, err := s.readToolCalls(ctx, msgs[i].ID)
		if err != nil {
			return nil, err
		}
		msgs[i].ToolCalls = calls
	}
	return msgs, nil
}

func (s *SQLiteStore) readToolCalls(ctx context.Context, messageID string) ([]conversation.ToolCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_use_id, tool_name, input, status, output, is_error
		FROM tool_calls WHERE message_id = ? ORDER BY rowid ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool calls: %w", err)
	}
	defer rows.Close()

	var calls []conversation.ToolCall
	for rows.Next() {
		var (
			tc     conversation.ToolCall
			input  sql.NullString
			output sql.NullString
		)
		if err := rows.Scan(&tc.ToolUseID, &tc.ToolName, &input, (*string)(&tc.Status), &output, &tc.IsError); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		tc.MessageID = messageID
		tc.Input = input.String
		tc.Output = output.String
		calls = append(calls, tc)
	}
	return calls, rows.Err()
}

// ListConversations implements Store.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_id, status, system_prompt, user_id, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []conversation.Conversation
	for rows.Next() {
		var (
			conv         conversation.Conversation
			systemPrompt sql.NullString
			userID       sql.NullString
			createdAt    time.Time
			updatedAt    time.Time
		)
		if err := rows.Scan(&conv.ID, &conv.StreamID, (*string)(&conv.Status), &systemPrompt, &userID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.SystemPrompt = systemPrompt.String
		conv.UserID = userID.String
		conv.CreatedAt = createdAt
		conv.UpdatedAt = updatedAt
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
