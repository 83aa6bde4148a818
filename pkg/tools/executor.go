package tools

import (
	"context"
	"fmt"

	"github.com/killallgit/strand/pkg/logger"
)

// Result is the contained outcome of one tool execution. IsError marks a
// failed execution whose output is fed back to the model as a failure
// result instead of aborting the turn.
type Result struct {
	Output  string
	IsError bool
}

// Executor runs registered tools with error containment.
type Executor struct {
	registry *Registry
}

func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute runs the named tool with the given raw JSON input. Execution
// failures are returned as an error-marked Result, never as a Go error;
// only programming mistakes (nil registry) escape.
func (e *Executor) Execute(ctx context.Context, name, input string) Result {
	tool, exists := e.registry.Get(name)
	if !exists {
		return Result{
			Output:  fmt.Sprintf("tool %q is not available", name),
			IsError: true,
		}
	}

	output, err := tool.Call(ctx, input)
	if err != nil {
		logger.Warn("Tool %s failed: %v", name, err)
		return Result{
			Output:  fmt.Sprintf("tool %s failed: %v", name, err),
			IsError: true,
		}
	}

	return Result{Output: output}
}
