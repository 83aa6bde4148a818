package aggregate_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/killallgit/strand/pkg/aggregate"
	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/events"
)

// execute runs a command against state and folds the emitted events,
// returning the resulting state.
func execute(state conversation.Conversation, cmd aggregate.Command) conversation.Conversation {
	GinkgoHelper()

	emitted, err := aggregate.Decide(state, cmd)
	Expect(err).NotTo(HaveOccurred())
	Expect(emitted).NotTo(BeEmpty())

	for _, ev := range emitted {
		next, err := aggregate.Apply(state, ev)
		Expect(err).NotTo(HaveOccurred())
		state = next
	}
	return state
}

var _ = Describe("Decide", func() {
	var state conversation.Conversation

	BeforeEach(func() {
		state = aggregate.NewState("stream-1")
	})

	Describe("send_message", func() {
		It("creates the conversation from the first message", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", UserID: "u1", Content: "hello"})

			Expect(state.Exists()).To(BeTrue())
			Expect(state.ID).To(Equal("stream-1"))
			Expect(state.Status).To(Equal(conversation.StatusIdle))
			Expect(state.UserID).To(Equal("u1"))
			Expect(state.Messages).To(HaveLen(1))
			Expect(state.Messages[0].Role).To(Equal(conversation.RoleUser))
			Expect(state.Messages[0].Content).To(Equal("hello"))
			Expect(state.Messages[0].Status).To(Equal(conversation.MessageComplete))
		})

		It("trims surrounding whitespace from the content", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "  hi  "})
			Expect(state.Messages[0].Content).To(Equal("hi"))
		})

		It("rejects empty content", func() {
			_, err := aggregate.Decide(state, aggregate.SendMessage{MessageID: "m1", Content: "   "})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("rejects a missing message id", func() {
			_, err := aggregate.Decide(state, aggregate.SendMessage{Content: "hello"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("rejects the message while a turn is streaming", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1"})

			_, err := aggregate.Decide(state, aggregate.SendMessage{MessageID: "m2", Content: "again"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("resolves a failed conversation back to idle", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1"})
			state = execute(state, aggregate.FailStream{ErrorType: events.ErrorTypeRequestError, ErrorMessage: "boom"})
			Expect(state.Status).To(Equal(conversation.StatusFailed))

			state = execute(state, aggregate.SendMessage{MessageID: "m2", Content: "retry"})
			Expect(state.Status).To(Equal(conversation.StatusIdle))
		})

		It("carries the tool config and rag sources onto the message", func() {
			cfg := &conversation.ToolConfig{Enabled: []string{"search"}, AutoConfirm: true}
			sources := []conversation.RAGSource{{DocumentID: "d1", Snippet: "passage"}}
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello", ToolConfig: cfg, RAGSources: sources})

			Expect(state.Messages[0].ToolConfig).To(Equal(cfg))
			Expect(state.Messages[0].RAGSources).To(Equal(sources))
		})
	})

	Describe("start_stream", func() {
		It("opens a streaming assistant message", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1", Model: "qwen3:latest"})

			Expect(state.Status).To(Equal(conversation.StatusStreaming))
			active, ok := state.ActiveMessage()
			Expect(ok).To(BeTrue())
			Expect(active.ID).To(Equal("a1"))
			Expect(active.Role).To(Equal(conversation.RoleAssistant))
		})

		It("rejects a second start while streaming", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1"})

			_, err := aggregate.Decide(state, aggregate.StartStream{MessageID: "a2"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("rejects a start with no user message", func() {
			_, err := aggregate.Decide(state, aggregate.StartStream{MessageID: "a1"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("rejects a start from failed", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1"})
			state = execute(state, aggregate.FailStream{ErrorType: events.ErrorTypeRequestError})

			_, err := aggregate.Decide(state, aggregate.StartStream{MessageID: "a2"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})
	})

	Describe("receive_chunk", func() {
		It("appends deltas to the active message in order", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1"})
			state = execute(state, aggregate.ReceiveChunk{Delta: "Hel"})
			state = execute(state, aggregate.ReceiveChunk{Delta: "lo!"})

			active, _ := state.ActiveMessage()
			Expect(active.Content).To(Equal("Hello!"))
		})

		It("rejects a chunk with no turn in flight", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			_, err := aggregate.Decide(state, aggregate.ReceiveChunk{Delta: "x"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})
	})

	Describe("tool calls", func() {
		BeforeEach(func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1"})
		})

		It("records a started call and marks the stop reason", func() {
			state = execute(state, aggregate.StartToolCall{ToolUseID: "tc1", ToolName: "search", Input: `{"query":"go"}`})

			active, _ := state.ActiveMessage()
			Expect(active.StopReason).To(Equal(conversation.StopToolUse))
			Expect(active.ToolCalls).To(HaveLen(1))
			Expect(active.ToolCalls[0].Status).To(Equal(conversation.ToolCallStarted))
			Expect(state.HasPendingToolCalls()).To(BeTrue())
		})

		It("rejects a duplicate tool_use_id", func() {
			state = execute(state, aggregate.StartToolCall{ToolUseID: "tc1", ToolName: "search"})
			_, err := aggregate.Decide(state, aggregate.StartToolCall{ToolUseID: "tc1", ToolName: "search"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("refuses to complete the stream while a call is pending", func() {
			state = execute(state, aggregate.StartToolCall{ToolUseID: "tc1", ToolName: "search"})
			_, err := aggregate.Decide(state, aggregate.CompleteStream{})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("resolves a call and then allows completion", func() {
			state = execute(state, aggregate.StartToolCall{ToolUseID: "tc1", ToolName: "search"})
			state = execute(state, aggregate.CompleteToolCall{ToolUseID: "tc1", Output: "results"})

			tc, ok := state.FindToolCall("tc1")
			Expect(ok).To(BeTrue())
			Expect(tc.Status).To(Equal(conversation.ToolCallCompleted))
			Expect(tc.Output).To(Equal("results"))
			Expect(tc.IsError).To(BeFalse())

			state = execute(state, aggregate.CompleteStream{})
			Expect(state.Status).To(Equal(conversation.StatusIdle))
		})

		It("keeps an error result as a completed call", func() {
			state = execute(state, aggregate.StartToolCall{ToolUseID: "tc1", ToolName: "search"})
			state = execute(state, aggregate.CompleteToolCall{ToolUseID: "tc1", Output: "denied", IsError: true})

			tc, _ := state.FindToolCall("tc1")
			Expect(tc.IsError).To(BeTrue())
			Expect(state.HasPendingToolCalls()).To(BeFalse())
		})

		It("rejects completing an unknown call", func() {
			_, err := aggregate.Decide(state, aggregate.CompleteToolCall{ToolUseID: "nope"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("rejects completing a call twice", func() {
			state = execute(state, aggregate.StartToolCall{ToolUseID: "tc1", ToolName: "search"})
			state = execute(state, aggregate.CompleteToolCall{ToolUseID: "tc1", Output: "ok"})
			_, err := aggregate.Decide(state, aggregate.CompleteToolCall{ToolUseID: "tc1", Output: "again"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})
	})

	Describe("complete_stream", func() {
		It("finishes the turn and defaults the stop reason", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1"})
			state = execute(state, aggregate.ReceiveChunk{Delta: "Hi"})
			state = execute(state, aggregate.CompleteStream{Usage: &aggregate.Usage{PromptTokens: 10, CompletionTokens: 3}})

			Expect(state.Status).To(Equal(conversation.StatusIdle))
			msg, _, ok := state.FindMessage("a1")
			Expect(ok).To(BeTrue())
			Expect(msg.Status).To(Equal(conversation.MessageComplete))
			Expect(msg.StopReason).To(Equal(conversation.StopEndTurn))
			Expect(msg.Content).To(Equal("Hi"))
		})

		It("rejects completion with no turn in flight", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			_, err := aggregate.Decide(state, aggregate.CompleteStream{})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})
	})

	Describe("fail_stream", func() {
		It("marks the turn failed and preserves partial content", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1"})
			state = execute(state, aggregate.ReceiveChunk{Delta: "partial answ"})
			state = execute(state, aggregate.FailStream{ErrorType: events.ErrorTypeRequestError, ErrorMessage: "timed out"})

			Expect(state.Status).To(Equal(conversation.StatusFailed))
			msg, _, _ := state.FindMessage("a1")
			Expect(msg.Status).To(Equal(conversation.MessageFailed))
			Expect(msg.Content).To(Equal("partial answ"))
		})

		It("is valid mid tool-round", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1"})
			state = execute(state, aggregate.StartToolCall{ToolUseID: "tc1", ToolName: "search"})

			state = execute(state, aggregate.FailStream{ErrorType: events.ErrorTypeTaskCrashed, ErrorMessage: "gone"})
			Expect(state.Status).To(Equal(conversation.StatusFailed))
		})

		It("requires an error type", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			state = execute(state, aggregate.StartStream{MessageID: "a1"})
			_, err := aggregate.Decide(state, aggregate.FailStream{})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("rejects failing an idle conversation", func() {
			state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			_, err := aggregate.Decide(state, aggregate.FailStream{ErrorType: events.ErrorTypeTaskCrashed})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})
	})

	Describe("edit_message", func() {
		// A finished exchange followed by a second user message, so there is
		// history both before and after the edit target.
		buildHistory := func() conversation.Conversation {
			s := aggregate.NewState("stream-1")
			s = execute(s, aggregate.SendMessage{MessageID: "m1", Content: "first question"})
			s = execute(s, aggregate.StartStream{MessageID: "a1"})
			s = execute(s, aggregate.ReceiveChunk{Delta: "first answer"})
			s = execute(s, aggregate.CompleteStream{})
			s = execute(s, aggregate.SendMessage{MessageID: "m2", Content: "second question"})
			s = execute(s, aggregate.StartStream{MessageID: "a2"})
			s = execute(s, aggregate.CompleteStream{})
			return s
		}

		It("replaces the message content and truncates everything after it", func() {
			s := buildHistory()
			Expect(s.Messages).To(HaveLen(4))

			s = execute(s, aggregate.EditMessage{MessageID: "m1", Content: "rephrased question"})

			Expect(s.Messages).To(HaveLen(1))
			Expect(s.Messages[0].ID).To(Equal("m1"))
			Expect(s.Messages[0].Content).To(Equal("rephrased question"))
			Expect(s.Status).To(Equal(conversation.StatusIdle))
		})

		It("keeps later messages when the last user message is edited", func() {
			s := buildHistory()
			s = execute(s, aggregate.EditMessage{MessageID: "m2", Content: "different question"})

			Expect(s.Messages).To(HaveLen(3))
			Expect(s.Messages[2].ID).To(Equal("m2"))
			Expect(s.Messages[2].Content).To(Equal("different question"))
		})

		It("rejects editing while streaming", func() {
			s := aggregate.NewState("stream-1")
			s = execute(s, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
			s = execute(s, aggregate.StartStream{MessageID: "a1"})

			_, err := aggregate.Decide(s, aggregate.EditMessage{MessageID: "m1", Content: "changed"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("rejects editing an assistant message", func() {
			s := buildHistory()
			_, err := aggregate.Decide(s, aggregate.EditMessage{MessageID: "a1", Content: "changed"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})

		It("rejects editing an unknown message", func() {
			s := buildHistory()
			_, err := aggregate.Decide(s, aggregate.EditMessage{MessageID: "missing", Content: "changed"})
			Expect(err).To(MatchError(aggregate.ErrCommandRejected))
		})
	})
})
