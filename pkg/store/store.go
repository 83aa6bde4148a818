// Package store owns the event log. It is the single writer per stream:
// Execute serializes command application for one stream_id while leaving
// unrelated conversations fully concurrent.
package store

import (
	"context"

	"github.com/killallgit/strand/pkg/aggregate"
	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/events"
)

// Store is the command and query surface of the event store.
type Store interface {
	// Execute applies one command to the stream's aggregate: load, decide,
	// append the full event batch atomically, project, broadcast. Returns
	// the post-command state and the appended events.
	Execute(ctx context.Context, streamID string, cmd aggregate.Command) (conversation.Conversation, []events.Event, error)

	// GetConversation reads the projected conversation for a stream.
	GetConversation(ctx context.Context, streamID string) (conversation.Conversation, error)

	// ListConversations returns projected conversation headers, newest
	// first, without their messages.
	ListConversations(ctx context.Context) ([]conversation.Conversation, error)

	// GetEvents returns the event log for a stream after the given
	// sequence, in append order. afterSeq 0 returns the full log.
	GetEvents(ctx context.Context, streamID string, afterSeq uint64) ([]events.Event, error)

	Close() error
}
