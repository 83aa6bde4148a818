package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/killallgit/strand/pkg/aggregate"
	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/events"
	"github.com/killallgit/strand/pkg/logger"
)

// Recover forces a terminal failed transition on a conversation stuck in
// streaming with no live turn task, and returns the consistent state. It is
// idempotent: a conversation that is idle, failed, or owned by a live task
// is returned untouched.
func (r *Runner) Recover(ctx context.Context, streamID string) (conversation.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, streamID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !conv.Exists() || conv.Status != conversation.StatusStreaming {
		return conv, nil
	}
	if r.tracker.IsLive(streamID) {
		return conv, nil
	}

	logger.Warn("Recovering orphaned streaming conversation %s", streamID)
	_, _, err = r.store.Execute(ctx, streamID, aggregate.FailStream{
		ErrorType:    events.ErrorTypeTaskCrashed,
		ErrorMessage: "The assistant task terminated unexpectedly.",
	})
	if err != nil && !errors.Is(err, aggregate.ErrCommandRejected) {
		return conversation.Conversation{}, fmt.Errorf("recovery of stream %s failed: %w", streamID, err)
	}

	// The projection committed with the event; a plain re-read is
	// consistent by construction.
	return r.store.GetConversation(ctx, streamID)
}

// RecoverAll sweeps every conversation left in streaming status with no
// live owner, typically at process start when no task can be live.
func (r *Runner) RecoverAll(ctx context.Context) error {
	convs, err := r.store.ListConversations(ctx)
	if err != nil {
		return err
	}

	for _, conv := range convs {
		if conv.Status != conversation.StatusStreaming {
			continue
		}
		if _, err := r.Recover(ctx, conv.StreamID); err != nil {
			return err
		}
	}
	return nil
}

// Cancel terminates an in-flight turn. It kills the turn task (best-effort;
// the final provider response is discarded unread) and then recovers the
// stream, which forces the terminal failed transition. Cancelling a stream
// with no live task degrades to plain recovery.
func (r *Runner) Cancel(ctx context.Context, streamID string) (conversation.Conversation, error) {
	if done, ok := r.tracker.Cancel(streamID); ok {
		select {
		case <-done:
		case <-ctx.Done():
			return conversation.Conversation{}, ctx.Err()
		}
	}
	return r.Recover(ctx, streamID)
}
