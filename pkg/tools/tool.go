package tools

import (
	"context"
	"errors"
)

// ErrInvalidInput is returned by Build when the arguments do not fit the tool.
var ErrInvalidInput = errors.New("invalid tool input")

// SideEffectType classifies a tool's impact on system state.
type SideEffectType int

const (
	SideEffectNone     SideEffectType = iota // pure lookups
	SideEffectReadOnly                       // reads external state
	SideEffectMutating                       // writes local state
	SideEffectNetwork                        // talks to a remote server
)

// ToolOutput is the result of a tool execution.
type ToolOutput struct {
	Content string // text content for the tool_result
	IsError bool   // when true, content is an error message
}

// Tool is the interface every registered tool implements. A tool is a factory
// for invocations; the invocation is what gets confirmed and executed.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any // JSON Schema object for the tools array
	SideEffect() SideEffectType
	Build(input map[string]any) (Invocation, error)
}

// Invocation is one validated call of a tool with concrete arguments.
type Invocation interface {
	// Describe returns a one-line human readable summary of the call.
	Describe() string
	// ShouldConfirm returns nil when the call may run without asking anyone.
	// It may block and must honor ctx.
	ShouldConfirm(ctx context.Context) (*ConfirmationDetails, error)
	Execute(ctx context.Context) (ToolOutput, error)
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
