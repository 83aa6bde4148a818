// Package runner drives assistant turns. Each turn is a cancellable
// background task bound to a stream_id: it opens the stream, relays
// provider deltas and tool rounds into the event store, and terminates the
// turn. The tracker records task ownership so recovery can tell an in-flight
// turn from an orphaned one.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/killallgit/strand/pkg/aggregate"
	"github.com/killallgit/strand/pkg/approval"
	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/events"
	"github.com/killallgit/strand/pkg/logger"
	"github.com/killallgit/strand/pkg/provider"
	"github.com/killallgit/strand/pkg/retrieval"
	"github.com/killallgit/strand/pkg/store"
	"github.com/killallgit/strand/pkg/tools"
)

// Options configures turn execution.
type Options struct {
	// Model passed through to the provider on each round.
	Model string

	// MaxRounds bounds the number of provider rounds (tool loops) per
	// turn.
	MaxRounds int

	// RetrievalTopK is the number of rag sources attached to each user
	// message when a retriever is configured.
	RetrievalTopK int

	// AutoConfirm executes tool calls without awaiting approval when the
	// turn's tool config does not say otherwise.
	AutoConfirm bool
}

// Runner orchestrates turns against the event store.
type Runner struct {
	store     store.Store
	provider  provider.Client
	registry  *tools.Registry
	executor  *tools.Executor
	approvals *approval.Registry
	retriever *retrieval.Store
	tracker   *Tracker
	opts      Options
}

// New builds a Runner. registry and retriever may be nil to disable tools
// and retrieval respectively.
func New(st store.Store, client provider.Client, registry *tools.Registry, approvals *approval.Registry, retriever *retrieval.Store, opts Options) *Runner {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 10
	}
	if opts.RetrievalTopK <= 0 {
		opts.RetrievalTopK = 4
	}

	var executor *tools.Executor
	if registry != nil {
		executor = tools.NewExecutor(registry)
	}

	return &Runner{
		store:     st,
		provider:  client,
		registry:  registry,
		executor:  executor,
		approvals: approvals,
		retriever: retriever,
		tracker:   NewTracker(),
		opts:      opts,
	}
}

// Tracker exposes the turn tracker for introspection.
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// Send appends a user message and triggers a new assistant turn. The
// message append and the turn start are separate commands: the append can
// succeed while the turn start is rejected by a concurrent writer.
func (r *Runner) Send(ctx context.Context, streamID, userID, content string, systemPrompt string, toolConfig *conversation.ToolConfig) (conversation.Conversation, error) {
	var ragSources []conversation.RAGSource
	if r.retriever != nil {
		sources, err := r.retriever.Search(ctx, content, r.opts.RetrievalTopK)
		if err != nil {
			// Retrieval is an enrichment; a failing vector store must
			// not block the conversation.
			logger.Warn("Retrieval failed for stream %s: %v", streamID, err)
		} else {
			ragSources = sources
		}
	}

	state, _, err := r.store.Execute(ctx, streamID, aggregate.SendMessage{
		MessageID:    uuid.NewString(),
		UserID:       userID,
		Content:      content,
		SystemPrompt: systemPrompt,
		ToolConfig:   toolConfig,
		RAGSources:   ragSources,
	})
	if err != nil {
		return conversation.Conversation{}, err
	}

	if err := r.StartTurn(streamID); err != nil {
		return state, err
	}
	return state, nil
}

// Edit amends a user message, rewinds the stream past it, and triggers a
// fresh turn from the edited content.
func (r *Runner) Edit(ctx context.Context, streamID, messageID, content string) (conversation.Conversation, error) {
	state, _, err := r.store.Execute(ctx, streamID, aggregate.EditMessage{
		MessageID: messageID,
		Content:   content,
	})
	if err != nil {
		return conversation.Conversation{}, err
	}

	if err := r.StartTurn(streamID); err != nil {
		return state, err
	}
	return state, nil
}

// StartTurn launches the turn task for a stream. It returns an error when a
// task already owns the stream; the aggregate additionally rejects a second
// start_stream, so a racing duplicate can never produce a second turn.
func (r *Runner) StartTurn(streamID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	handle, err := r.tracker.Track(streamID, cancel)
	if err != nil {
		cancel()
		return err
	}

	go func() {
		defer r.tracker.Finish(handle)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Turn task for stream %s panicked: %v", streamID, rec)
				r.failTurn(streamID, events.ErrorTypeTaskCrashed, "The assistant task terminated unexpectedly.")
			}
		}()

		r.runTurn(ctx, streamID)
	}()

	return nil
}

func (r *Runner) runTurn(ctx context.Context, streamID string) {
	assistantID := uuid.NewString()
	state, _, err := r.store.Execute(ctx, streamID, aggregate.StartStream{
		MessageID: assistantID,
		Model:     r.opts.Model,
	})
	if err != nil {
		// A rejection here means another turn beat us to the stream;
		// nothing was emitted, so there is nothing to clean up.
		logger.Warn("Turn for stream %s did not start: %v", streamID, err)
		return
	}

	history := r.buildHistory(state, assistantID)
	toolConfig := state.TurnToolConfig()
	roundOpts := provider.RoundOptions{
		Model: r.opts.Model,
		Tools: r.toolDefinitions(toolConfig),
	}

	onDelta := func(delta string) error {
		_, _, err := r.store.Execute(ctx, streamID, aggregate.ReceiveChunk{Delta: delta})
		return err
	}

	for round := 0; round < r.opts.MaxRounds; round++ {
		result, err := r.provider.StreamRound(ctx, history, roundOpts, onDelta)
		if err != nil {
			if ctx.Err() != nil {
				// Task terminated from outside; cancellation owns the
				// terminal transition via Recover.
				logger.Debug("Turn for stream %s cancelled mid-round", streamID)
				return
			}
			errorType, message := provider.Classify(err)
			logger.Error("Provider round failed for stream %s: %v", streamID, err)
			r.failTurn(streamID, errorType, message)
			return
		}

		if len(result.ToolCalls) == 0 {
			_, _, err := r.store.Execute(ctx, streamID, aggregate.CompleteStream{
				StopReason: conversation.StopEndTurn,
				Usage:      result.Usage,
			})
			if err != nil {
				logger.Error("Failed to complete turn for stream %s: %v", streamID, err)
			}
			return
		}

		history = append(history, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		for _, tc := range result.ToolCalls {
			if _, _, err := r.store.Execute(ctx, streamID, aggregate.StartToolCall{
				ToolUseID: tc.ID,
				ToolName:  tc.Name,
				Input:     tc.Arguments,
			}); err != nil {
				logger.Error("Failed to record tool call %s: %v", tc.ID, err)
				r.failTurn(streamID, events.ErrorTypeRequestError, "The turn could not record a tool call.")
				return
			}

			outcome, err := r.resolveToolCall(ctx, toolConfig, tc)
			if err != nil {
				// Only context cancellation reaches here: the approval
				// wait is unbounded and tool failures are contained.
				logger.Debug("Turn for stream %s cancelled awaiting tool call %s", streamID, tc.ID)
				return
			}

			if _, _, err := r.store.Execute(ctx, streamID, aggregate.CompleteToolCall{
				ToolUseID: tc.ID,
				Output:    outcome.Output,
				IsError:   outcome.IsError,
			}); err != nil {
				logger.Error("Failed to complete tool call %s: %v", tc.ID, err)
				r.failTurn(streamID, events.ErrorTypeRequestError, "The turn could not record a tool result.")
				return
			}

			history = append(history, provider.Message{
				Role:       provider.RoleTool,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				Content:    outcome.Output,
			})
		}
	}

	logger.Error("Turn for stream %s exceeded %d tool rounds", streamID, r.opts.MaxRounds)
	r.failTurn(streamID, events.ErrorTypeRequestError, fmt.Sprintf("The turn exceeded the %d tool round limit.", r.opts.MaxRounds))
}

// resolveToolCall obtains the tool result, awaiting an approval decision
// when the turn is not auto-confirmed. The returned error is always a
// context cancellation.
func (r *Runner) resolveToolCall(ctx context.Context, toolConfig *conversation.ToolConfig, tc provider.ToolCallRequest) (tools.Result, error) {
	autoConfirm := r.opts.AutoConfirm
	if toolConfig != nil {
		autoConfirm = toolConfig.AutoConfirm
	}

	if !autoConfirm {
		decision, err := r.approvals.Await(ctx, tc.ID)
		if err != nil {
			return tools.Result{}, err
		}
		if !decision.Approved {
			reason := decision.Reason
			if reason == "" {
				reason = "no reason given"
			}
			return tools.Result{
				Output:  fmt.Sprintf("The user rejected this tool call: %s", reason),
				IsError: true,
			}, nil
		}
	}

	if r.executor == nil {
		return tools.Result{
			Output:  fmt.Sprintf("tool %q is not available", tc.Name),
			IsError: true,
		}, nil
	}
	return r.executor.Execute(ctx, tc.Name, tc.Arguments), nil
}

// failTurn emits the terminal failure with a fresh context so a cancelled
// turn context cannot block the transition.
func (r *Runner) failTurn(streamID, errorType, message string) {
	_, _, err := r.store.Execute(context.Background(), streamID, aggregate.FailStream{
		ErrorType:    errorType,
		ErrorMessage: message,
	})
	if err != nil && !errors.Is(err, aggregate.ErrCommandRejected) {
		logger.Error("Failed to fail turn for stream %s: %v", streamID, err)
	}
}

func (r *Runner) toolDefinitions(toolConfig *conversation.ToolConfig) []llms.Tool {
	if r.registry == nil {
		return nil
	}
	var enabled []string
	if toolConfig != nil {
		enabled = toolConfig.Enabled
	}
	return r.registry.Definitions(enabled)
}

// buildHistory converts projected state into the provider history for the
// next round, excluding the assistant message currently being generated.
func (r *Runner) buildHistory(state conversation.Conversation, activeMessageID string) []provider.Message {
	var history []provider.Message

	if prompt := r.systemPrompt(state); prompt != "" {
		history = append(history, provider.Message{Role: provider.RoleSystem, Content: prompt})
	}

	for _, msg := range state.Messages {
		if msg.ID == activeMessageID {
			continue
		}
		switch {
		case msg.IsUser():
			history = append(history, provider.Message{Role: provider.RoleUser, Content: msg.Content})

		case msg.IsAssistant():
			entry := provider.Message{Role: provider.RoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				entry.ToolCalls = append(entry.ToolCalls, provider.ToolCallRequest{
					ID:        tc.ToolUseID,
					Name:      tc.ToolName,
					Arguments: tc.Input,
				})
			}
			history = append(history, entry)

			for _, tc := range msg.ToolCalls {
				if tc.Status != conversation.ToolCallCompleted {
					continue
				}
				history = append(history, provider.Message{
					Role:       provider.RoleTool,
					ToolCallID: tc.ToolUseID,
					ToolName:   tc.ToolName,
					Content:    tc.Output,
				})
			}
		}
	}

	return history
}

// systemPrompt folds any rag sources on the current user message into the
// conversation's system prompt so the model sees the retrieved context.
func (r *Runner) systemPrompt(state conversation.Conversation) string {
	prompt := state.SystemPrompt

	msg, ok := state.LastUserMessage()
	if !ok || len(msg.RAGSources) == 0 {
		return prompt
	}

	var b strings.Builder
	if prompt != "" {
		b.WriteString(prompt)
		b.WriteString("\n\n")
	}
	b.WriteString("Relevant context from the document store:")
	for _, src := range msg.RAGSources {
		title := src.Title
		if title == "" {
			title = src.DocumentID
		}
		fmt.Fprintf(&b, "\n- %s: %s", title, src.Snippet)
	}
	return b.String()
}
