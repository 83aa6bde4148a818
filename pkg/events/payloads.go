package events

// UserMessageAdded records a user message entering the conversation. When
// ReplacesMessageID is set this is an edit-and-resend: replay drops every
// message strictly after the replaced one before appending the new content
// under the same message id.
type UserMessageAdded struct {
	MessageID         string      `json:"message_id"`
	UserID            string      `json:"user_id,omitempty"`
	Content           string      `json:"content"`
	SystemPrompt      string      `json:"system_prompt,omitempty"`
	ToolConfig        *ToolConfig `json:"tool_config,omitempty"`
	RAGSources        []RAGSource `json:"rag_sources,omitempty"`
	ReplacesMessageID string      `json:"replaces_message_id,omitempty"`
}

// ToolConfig is the capability selection for one turn.
type ToolConfig struct {
	Enabled     []string `json:"enabled,omitempty"`
	AutoConfirm bool     `json:"auto_confirm"`
}

// RAGSource is a retrieval hit attached to a user message.
type RAGSource struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
	Score      float32 `json:"score"`
}

// AssistantStreamStarted opens an assistant turn. MessageID is minted by the
// command issuer so replay reproduces the same message identity.
type AssistantStreamStarted struct {
	MessageID string `json:"message_id"`
	Model     string `json:"model,omitempty"`
}

// AssistantChunkReceived appends a streamed delta to the active message.
type AssistantChunkReceived struct {
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
}

// ToolCallStarted records the model requesting a tool invocation.
type ToolCallStarted struct {
	MessageID string `json:"message_id"`
	ToolUseID string `json:"tool_use_id"`
	ToolName  string `json:"tool_name"`
	Input     string `json:"input,omitempty"`
}

// ToolCallCompleted records the resolved result of a tool call, whether it
// was executed, rejected, or failed. A failed execution is still a completed
// call; the output carries the failure back to the model.
type ToolCallCompleted struct {
	ToolUseID string `json:"tool_use_id"`
	Output    string `json:"output,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Usage is provider-reported token accounting for a completed turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// AssistantStreamCompleted terminates a turn successfully.
type AssistantStreamCompleted struct {
	MessageID  string `json:"message_id"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
}

// AssistantStreamFailed terminates a turn with a classified error.
type AssistantStreamFailed struct {
	MessageID    string `json:"message_id"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message,omitempty"`
}
