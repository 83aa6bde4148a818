package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/killallgit/strand/pkg/retrieval"
)

// SearchTool queries the ingested document store.
type SearchTool struct {
	store *retrieval.Store
	topK  int
}

func NewSearchTool(store *retrieval.Store, topK int) *SearchTool {
	if topK <= 0 {
		topK = 4
	}
	return &SearchTool{store: store, topK: topK}
}

func (t *SearchTool) Name() string {
	return "search"
}

func (t *SearchTool) Description() string {
	return "Search the ingested document store for passages relevant to a query."
}

// SearchParameters is the JSON schema offered to the model for this tool.
func SearchParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Call(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)

	// Tool arguments usually arrive as a JSON object.
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &args); err == nil && args.Query != "" {
		query = args.Query
	}
	if query == "" {
		return "", fmt.Errorf("search query is empty")
	}

	sources, err := t.store.Search(ctx, query, t.topK)
	if err != nil {
		return "", err
	}
	if len(sources) == 0 {
		return "No matching documents found.", nil
	}

	var b strings.Builder
	for i, src := range sources {
		if i > 0 {
			b.WriteString("\n\n")
		}
		title := src.Title
		if title == "" {
			title = src.DocumentID
		}
		fmt.Fprintf(&b, "[%d] %s (score %.2f)\n%s", i+1, title, src.Score, src.Snippet)
	}
	return b.String(), nil
}
