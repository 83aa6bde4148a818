// Package tools holds the tool registry and executor for assistant turns.
// Tools implement the langchaingo tools.Tool contract plus a JSON schema so
// they can be offered to the model; per-turn capability selection picks the
// subset a turn may use.
package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"github.com/killallgit/strand/pkg/logger"
)

// Entry pairs a tool implementation with the parameter schema offered to
// the model.
type Entry struct {
	Tool       tools.Tool
	Parameters map[string]any
}

// Registry is a thread-safe name-to-tool map.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(tool tools.Tool, parameters map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool %s is already registered", name)
	}

	r.entries[name] = Entry{Tool: tool, Parameters: parameters}
	logger.Debug("Registered tool: %s", name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (tools.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[name]
	if !exists {
		return nil, false
	}
	return entry.Tool, true
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions builds the llms.Tool declarations for a turn. enabled narrows
// the offered set; nil or empty offers every registered tool.
func (r *Registry) Definitions(enabled []string) []llms.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		selected[name] = true
	}

	var defs []llms.Tool
	for _, name := range r.sortedNames() {
		if len(selected) > 0 && !selected[name] {
			continue
		}
		entry := r.entries[name]
		parameters := entry.Parameters
		if parameters == nil {
			parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        name,
				Description: entry.Tool.Description(),
				Parameters:  parameters,
			},
		})
	}
	return defs
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
