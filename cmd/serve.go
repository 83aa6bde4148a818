package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/killallgit/strand/pkg/api"
	"github.com/killallgit/strand/pkg/approval"
	"github.com/killallgit/strand/pkg/config"
	"github.com/killallgit/strand/pkg/logger"
	"github.com/killallgit/strand/pkg/provider"
	"github.com/killallgit/strand/pkg/pubsub"
	"github.com/killallgit/strand/pkg/retrieval"
	"github.com/killallgit/strand/pkg/runner"
	"github.com/killallgit/strand/pkg/store"
	"github.com/killallgit/strand/pkg/tools"
)

func runServe() error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	if err := logger.Init(settings.Logging.Level, settings.Logging.LogFile); err != nil {
		return err
	}
	defer logger.Sync()

	broker := pubsub.NewBroker()

	st, err := store.NewSQLiteStore(settings.Database.Path, broker)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer st.Close()

	client, err := provider.NewOllamaClient(
		settings.Ollama.URL,
		settings.Ollama.DefaultModel,
		settings.Ollama.RequestTimeout(),
	)
	if err != nil {
		return fmt.Errorf("failed to build provider client: %w", err)
	}

	var retriever *retrieval.Store
	if settings.Retrieval.Enabled {
		retriever, err = retrieval.NewStore(retrieval.Config{
			PersistDirectory: settings.Retrieval.PersistDir,
			CollectionName:   settings.Retrieval.Collection,
			EmbedderModel:    settings.Retrieval.Embedder.Model,
			EmbedderBaseURL:  settings.Retrieval.Embedder.BaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to build retrieval store: %w", err)
		}
	}

	var registry *tools.Registry
	if settings.Tools.Enabled {
		registry = tools.NewRegistry()
		if retriever != nil {
			if err := registry.Register(tools.NewSearchTool(retriever, settings.Retrieval.TopK), tools.SearchParameters()); err != nil {
				return err
			}
		}
	}

	approvals := approval.NewRegistry()

	r := runner.New(st, client, registry, approvals, retriever, runner.Options{
		Model:         settings.Ollama.DefaultModel,
		MaxRounds:     settings.Tools.MaxRounds,
		RetrievalTopK: settings.Retrieval.TopK,
		AutoConfirm:   settings.Tools.AutoConfirm,
	})

	// Any conversation still marked streaming at boot lost its task with
	// the previous process; fail it before serving reads.
	if err := r.RecoverAll(context.Background()); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	server := api.NewServer(st, r, approvals, broker, retriever)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(settings.Server.Addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("Received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}
