package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/killallgit/strand/pkg/aggregate"
	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/logger"
	"github.com/killallgit/strand/pkg/retrieval"
)

// SendMessageRequest is the body for creating a conversation or appending a
// message to one.
type SendMessageRequest struct {
	Content      string                   `json:"content"`
	UserID       string                   `json:"user_id,omitempty"`
	SystemPrompt string                   `json:"system_prompt,omitempty"`
	ToolConfig   *conversation.ToolConfig `json:"tool_config,omitempty"`
}

// EditMessageRequest is the body for edit-and-resend.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// DecisionRequest is the body for a tool call approval decision.
type DecisionRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// IngestRequest is the body for document ingestion.
type IngestRequest struct {
	Documents []retrieval.Document `json:"documents"`
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}

func commandError(c echo.Context, err error) error {
	if errors.Is(err, aggregate.ErrCommandRejected) {
		return errorJSON(c, http.StatusConflict, err.Error())
	}
	logger.Error("Command failed: %v", err)
	return errorJSON(c, http.StatusInternalServerError, "internal error")
}

// CreateConversation starts a new conversation from its first user message.
// POST /api/conversations
func (s *Server) CreateConversation(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	streamID := uuid.NewString()
	state, err := s.runner.Send(c.Request().Context(), streamID, req.UserID, req.Content, req.SystemPrompt, req.ToolConfig)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusCreated, state)
}

// SendMessage appends a user message and triggers a turn.
// POST /api/conversations/:id/messages
func (s *Server) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	streamID := c.Param("id")
	state, err := s.runner.Send(c.Request().Context(), streamID, req.UserID, req.Content, req.SystemPrompt, req.ToolConfig)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusAccepted, state)
}

// EditMessage amends a user message and re-triggers the turn from there.
// PUT /api/conversations/:id/messages/:message_id
func (s *Server) EditMessage(c echo.Context) error {
	var req EditMessageRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	state, err := s.runner.Edit(c.Request().Context(), c.Param("id"), c.Param("message_id"), req.Content)
	if err != nil {
		return commandError(c, err)
	}
	return c.JSON(http.StatusAccepted, state)
}

// GetConversation returns the projected conversation. A conversation found
// streaming with no live turn task is recovered before it is returned, so a
// reconnecting viewer never observes a wedged stream.
// GET /api/conversations/:id
func (s *Server) GetConversation(c echo.Context) error {
	streamID := c.Param("id")

	conv, err := s.runner.Recover(c.Request().Context(), streamID)
	if err != nil {
		logger.Error("Failed to load conversation %s: %v", streamID, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to load conversation")
	}
	if !conv.Exists() {
		return errorJSON(c, http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, conv)
}

// ListConversations returns conversation headers, newest first.
// GET /api/conversations
func (s *Server) ListConversations(c echo.Context) error {
	convs, err := s.store.ListConversations(c.Request().Context())
	if err != nil {
		logger.Error("Failed to list conversations: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to list conversations")
	}
	if convs == nil {
		convs = []conversation.Conversation{}
	}
	return c.JSON(http.StatusOK, convs)
}

// CancelTurn kills the in-flight turn and forces the failed transition.
// POST /api/conversations/:id/cancel
func (s *Server) CancelTurn(c echo.Context) error {
	conv, err := s.runner.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		logger.Error("Failed to cancel stream %s: %v", c.Param("id"), err)
		return errorJSON(c, http.StatusInternalServerError, "failed to cancel")
	}
	if !conv.Exists() {
		return errorJSON(c, http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, conv)
}

// PendingToolCalls lists tool_use_ids awaiting an approval decision.
// GET /api/tool-calls/pending
func (s *Server) PendingToolCalls(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"pending": s.approvals.Pending()})
}

// DecideToolCall fulfils the approval slot for a pending tool call.
// POST /api/tool-calls/:tool_use_id/decision
func (s *Server) DecideToolCall(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	toolUseID := c.Param("tool_use_id")
	if !s.approvals.Resolve(toolUseID, req.Approved, req.Reason) {
		return errorJSON(c, http.StatusNotFound, "no pending decision for this tool call")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tool_use_id": toolUseID,
		"approved":    req.Approved,
	})
}

// IngestDocuments adds documents to the retrieval store.
// POST /api/documents
func (s *Server) IngestDocuments(c echo.Context) error {
	if s.retriever == nil {
		return errorJSON(c, http.StatusServiceUnavailable, "retrieval is not enabled")
	}

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if len(req.Documents) == 0 {
		return errorJSON(c, http.StatusBadRequest, "no documents supplied")
	}

	if err := s.retriever.AddDocuments(c.Request().Context(), req.Documents); err != nil {
		logger.Error("Document ingestion failed: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to ingest documents")
	}
	return c.JSON(http.StatusCreated, map[string]int{"ingested": len(req.Documents)})
}
