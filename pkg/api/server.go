// Package api exposes the conversation core over HTTP. Commands enter here
// (send, edit, approve, cancel), projections are read here, and the SSE
// feed pushes appended events to viewers.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/killallgit/strand/pkg/approval"
	"github.com/killallgit/strand/pkg/logger"
	"github.com/killallgit/strand/pkg/pubsub"
	"github.com/killallgit/strand/pkg/retrieval"
	"github.com/killallgit/strand/pkg/runner"
	"github.com/killallgit/strand/pkg/store"
)

// Server wires the HTTP surface to the conversation core.
type Server struct {
	echo      *echo.Echo
	store     store.Store
	runner    *runner.Runner
	approvals *approval.Registry
	broker    *pubsub.Broker
	retriever *retrieval.Store
}

// NewServer builds the HTTP server. retriever may be nil when retrieval is
// disabled; the ingestion endpoint then reports it as unavailable.
func NewServer(st store.Store, r *runner.Runner, approvals *approval.Registry, broker *pubsub.Broker, retriever *retrieval.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		store:     st,
		runner:    r,
		approvals: approvals,
		broker:    broker,
		retriever: retriever,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")

	api.GET("/conversations", s.ListConversations)
	api.POST("/conversations", s.CreateConversation)
	api.GET("/conversations/:id", s.GetConversation)
	api.POST("/conversations/:id/messages", s.SendMessage)
	api.PUT("/conversations/:id/messages/:message_id", s.EditMessage)
	api.POST("/conversations/:id/cancel", s.CancelTurn)
	api.GET("/conversations/:id/events", s.StreamEvents)

	api.GET("/tool-calls/pending", s.PendingToolCalls)
	api.POST("/tool-calls/:tool_use_id/decision", s.DecideToolCall)

	api.POST("/documents", s.IngestDocuments)
}

// Start blocks serving HTTP until the listener fails or is shut down.
func (s *Server) Start(addr string) error {
	logger.Info("HTTP API listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router, used by tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
