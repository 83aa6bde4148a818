package runner

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TurnInfo describes one live turn for introspection.
type TurnInfo struct {
	StreamID  string
	StartTime time.Time
}

// Handle is the supervision record for one in-flight turn task. Recovery
// uses its presence to answer "is there a live owner for this stream".
type Handle struct {
	streamID  string
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Done is closed when the turn task has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Tracker tracks the live turn task per stream. At most one task may own a
// stream at a time.
type Tracker struct {
	mu    sync.RWMutex
	turns map[string]*Handle
}

func NewTracker() *Tracker {
	return &Tracker{
		turns: make(map[string]*Handle),
	}
}

// Track registers a new turn task for the stream.
func (t *Tracker) Track(streamID string, cancel context.CancelFunc) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.turns[streamID]; exists {
		return nil, fmt.Errorf("stream %s already has a live turn", streamID)
	}

	h := &Handle{
		streamID:  streamID,
		startTime: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	t.turns[streamID] = h
	return h, nil
}

// Finish releases the handle and signals waiters. Safe to call once per
// handle; it is the task's deferred last act, normal or not.
func (t *Tracker) Finish(h *Handle) {
	t.mu.Lock()
	if current, exists := t.turns[h.streamID]; exists && current == h {
		delete(t.turns, h.streamID)
	}
	t.mu.Unlock()
	close(h.done)
}

// IsLive reports whether a turn task currently owns the stream.
func (t *Tracker) IsLive(streamID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.turns[streamID]
	return exists
}

// Cancel terminates the stream's turn task, returning its done channel so
// the caller can await the task's exit. ok is false when no task is live.
func (t *Tracker) Cancel(streamID string) (<-chan struct{}, bool) {
	t.mu.RLock()
	h, exists := t.turns[streamID]
	t.mu.RUnlock()

	if !exists {
		return nil, false
	}
	h.cancel()
	return h.done, true
}

// Active lists the live turns.
func (t *Tracker) Active() []TurnInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	infos := make([]TurnInfo, 0, len(t.turns))
	for _, h := range t.turns {
		infos = append(infos, TurnInfo{StreamID: h.streamID, StartTime: h.startTime})
	}
	return infos
}
