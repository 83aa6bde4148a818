package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/killallgit/strand/pkg/provider"
)

// scriptedRound describes one fake provider round: deltas streamed first,
// then either the result, an error, a panic, or a block until cancellation.
type scriptedRound struct {
	deltas   []string
	result   *provider.RoundResult
	err      error
	blockCtx bool
	panicMsg string
}

// fakeClient replays scripted rounds and records the history it was given.
type fakeClient struct {
	mu        sync.Mutex
	rounds    []scriptedRound
	calls     int
	histories [][]provider.Message
}

func (f *fakeClient) StreamRound(ctx context.Context, msgs []provider.Message, opts provider.RoundOptions, onDelta func(delta string) error) (*provider.RoundResult, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.histories = append(f.histories, msgs)
	f.mu.Unlock()

	if idx >= len(f.rounds) {
		return nil, fmt.Errorf("unscripted provider round %d", idx)
	}
	round := f.rounds[idx]

	if round.panicMsg != "" {
		panic(round.panicMsg)
	}
	if round.blockCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	for _, d := range round.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
	}
	if round.err != nil {
		return nil, round.err
	}
	return round.result, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) history(round int) []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if round >= len(f.histories) {
		return nil
	}
	return f.histories[round]
}

var _ provider.Client = (*fakeClient)(nil)
