// Package approval is the out-of-band decision channel for tool calls. A
// stream handler awaiting human confirmation registers a oneshot slot keyed
// by tool_use_id; whichever actor approves or rejects fulfils it. The wait
// is unbounded from the protocol's perspective and is abandoned only by
// cancelling the handler's context.
package approval

import (
	"context"
	"fmt"
	"sync"
)

// Decision is the resolution of one pending tool call.
type Decision struct {
	ToolUseID string `json:"tool_use_id"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

// Registry holds pending oneshot decision slots indexed by tool_use_id.
type Registry struct {
	mu      sync.Mutex
	pending map[string]chan Decision
}

func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]chan Decision),
	}
}

// Await blocks until a decision arrives for toolUseID or ctx is cancelled.
// Only one waiter per tool_use_id may be registered at a time.
func (r *Registry) Await(ctx context.Context, toolUseID string) (Decision, error) {
	r.mu.Lock()
	if _, exists := r.pending[toolUseID]; exists {
		r.mu.Unlock()
		return Decision{}, fmt.Errorf("decision for tool call %s is already awaited", toolUseID)
	}
	ch := make(chan Decision, 1)
	r.pending[toolUseID] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, toolUseID)
		r.mu.Unlock()
	}()

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Resolve fulfils the pending slot for toolUseID. It reports false when no
// handler is waiting, which callers surface as an unknown or already
// resolved tool call.
func (r *Registry) Resolve(toolUseID string, approved bool, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.pending[toolUseID]
	if !exists {
		return false
	}
	delete(r.pending, toolUseID)

	ch <- Decision{ToolUseID: toolUseID, Approved: approved, Reason: reason}
	return true
}

// Pending returns the tool_use_ids currently awaiting a decision.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	return ids
}
