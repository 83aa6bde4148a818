// Package retrieval backs the rag_sources attached to user turns with an
// embedded chromem-go vector store.
package retrieval

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/killallgit/strand/pkg/conversation"
	"github.com/killallgit/strand/pkg/logger"
)

// Document is a unit of ingested content.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Config configures the vector store.
type Config struct {
	// PersistDirectory enables on-disk persistence when non-empty.
	PersistDirectory string

	// CollectionName defaults to "documents".
	CollectionName string

	// EmbeddingFunc overrides the embedder, used by tests. When nil an
	// Ollama embedder is built from EmbedderModel/EmbedderBaseURL.
	EmbeddingFunc chromem.EmbeddingFunc

	EmbedderModel   string
	EmbedderBaseURL string
}

// Store wraps a chromem collection with snippet-oriented search.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	mu         sync.RWMutex
}

// NewStore creates the vector store and its collection.
func NewStore(cfg Config) (*Store, error) {
	if cfg.CollectionName == "" {
		cfg.CollectionName = "documents"
	}

	embeddingFunc := cfg.EmbeddingFunc
	if embeddingFunc == nil {
		if cfg.EmbedderModel == "" {
			return nil, fmt.Errorf("embedder model is required")
		}
		embeddingFunc = chromem.NewEmbeddingFuncOllama(cfg.EmbedderModel, cfg.EmbedderBaseURL)
	}

	var db *chromem.DB
	var err error
	if cfg.PersistDirectory != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistDirectory, false)
		if err != nil {
			return nil, fmt.Errorf("failed to create persistent vector store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(cfg.CollectionName, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", cfg.CollectionName, err)
	}

	return &Store{db: db, collection: collection}, nil
}

// AddDocuments ingests documents into the collection.
func (s *Store) AddDocuments(ctx context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chromemDocs := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" || doc.Content == "" {
			return fmt.Errorf("document id and content are required")
		}
		metadata := map[string]string{}
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		if doc.Title != "" {
			metadata["title"] = doc.Title
		}
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: metadata,
		})
	}

	if err := s.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	logger.Debug("Ingested %d documents into vector store", len(chromemDocs))
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count()
}

// Search returns the top-k retrieval hits for a query as RAGSources. An
// empty store yields no sources rather than an error.
func (s *Store) Search(ctx context.Context, query string, k int) ([]conversation.RAGSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	sources := make([]conversation.RAGSource, 0, len(results))
	for _, res := range results {
		sources = append(sources, conversation.RAGSource{
			DocumentID: res.ID,
			Title:      res.Metadata["title"],
			Snippet:    snippet(res.Content, 280),
			Score:      res.Similarity,
		})
	}
	return sources, nil
}

func snippet(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
