package aggregate_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/killallgit/strand/pkg/aggregate"
	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/events"
)

var _ = Describe("Apply", func() {
	It("does not mutate the input state", func() {
		state := aggregate.NewState("stream-1")
		state = execute(state, aggregate.SendMessage{MessageID: "m1", Content: "hello"})
		state = execute(state, aggregate.StartStream{MessageID: "a1"})

		before := state.Messages[1].Content
		ev, err := events.New("stream-1", events.TypeAssistantChunkReceived,
			events.AssistantChunkReceived{MessageID: "a1", Delta: "chunk"})
		Expect(err).NotTo(HaveOccurred())

		next, err := aggregate.Apply(state, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(next.Messages[1].Content).To(Equal("chunk"))
		Expect(state.Messages[1].Content).To(Equal(before))
	})

	It("fails on an unknown event type", func() {
		state := aggregate.NewState("stream-1")
		_, err := aggregate.Apply(state, events.Event{Type: "mystery", Data: []byte("{}")})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Replay", func() {
	// fullTurnLog produces the event log of a complete tool-using turn by
	// running the commands through Decide.
	fullTurnLog := func() []events.Event {
		state := aggregate.NewState("stream-1")
		var log []events.Event

		run := func(cmd aggregate.Command) {
			GinkgoHelper()
			emitted, err := aggregate.Decide(state, cmd)
			Expect(err).NotTo(HaveOccurred())
			for _, ev := range emitted {
				ev.Sequence = uint64(len(log) + 1)
				log = append(log, ev)
				next, err := aggregate.Apply(state, ev)
				Expect(err).NotTo(HaveOccurred())
				state = next
			}
		}

		run(aggregate.SendMessage{MessageID: "m1", UserID: "u1", Content: "look this up"})
		run(aggregate.StartStream{MessageID: "a1", Model: "qwen3:latest"})
		run(aggregate.ReceiveChunk{Delta: "Let me check."})
		run(aggregate.StartToolCall{ToolUseID: "tc1", ToolName: "search", Input: `{"query":"weather"}`})
		run(aggregate.CompleteToolCall{ToolUseID: "tc1", Output: "sunny"})
		run(aggregate.ReceiveChunk{Delta: " It is sunny."})
		run(aggregate.CompleteStream{Usage: &aggregate.Usage{PromptTokens: 40, CompletionTokens: 12}})
		return log
	}

	It("reproduces identical state from the same log", func() {
		log := fullTurnLog()

		first, err := aggregate.Replay("stream-1", log)
		Expect(err).NotTo(HaveOccurred())
		second, err := aggregate.Replay("stream-1", log)
		Expect(err).NotTo(HaveOccurred())

		Expect(second).To(Equal(first))
		Expect(first.Status).To(Equal(conversation.StatusIdle))
		Expect(first.Messages).To(HaveLen(2))
		Expect(first.Messages[1].Content).To(Equal("Let me check. It is sunny."))
		Expect(first.Messages[1].ToolCalls).To(HaveLen(1))
	})

	It("yields the empty state for an empty log", func() {
		state, err := aggregate.Replay("stream-1", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Exists()).To(BeFalse())
		Expect(state.Status).To(Equal(conversation.StatusIdle))
	})

	It("halts on a corrupt event", func() {
		log := fullTurnLog()
		log[2].Data = []byte("not json")

		_, err := aggregate.Replay("stream-1", log)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("seq 3"))
	})
})
