// ABOUTME: Thread-safe registry of named tools and their functions
// ABOUTME: Functions carry optional schemas, tags, and an approval mode

package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrToolNotFound indicates the named tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrFunctionNotFound indicates the tool has no function by that name.
var ErrFunctionNotFound = errors.New("function not found")

// ErrFunctionCollision indicates a function name is already registered for a tool.
var ErrFunctionCollision = errors.New("function name collision")

// ApprovalMode controls whether a function executes immediately or is gated
// behind an explicit user confirmation.
type ApprovalMode string

const (
	// ApprovalAuto executes without confirmation.
	ApprovalAuto ApprovalMode = "auto"
	// ApprovalAsk broadcasts a suggestion and waits for an affirmative follow-up.
	ApprovalAsk ApprovalMode = "ask"
)

// Invocation carries the context of one tool call into a handler.
type Invocation struct {
	RoomID     string
	UserID     string
	RunID      string
	ToolCallID string
	Args       map[string]any
}

// Handler executes one tool function. Errors are captured by the runner and
// converted to structured failure results.
type Handler func(ctx context.Context, inv *Invocation) (any, error)

// Function is one callable entry point of a tool.
type Function struct {
	Name        string
	Description string
	Schema      json.RawMessage // optional JSON schema for args
	Tags        []string
	Approval    ApprovalMode
	Handler     Handler
}

// Descriptor is the externally visible shape of a registered function.
type Descriptor struct {
	Tool        string          `json:"tool"`
	Function    string          `json:"function"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Approval    ApprovalMode    `json:"approval"`
}

// Registry maps tool names to their named functions.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]map[string]*Function
	logger *slog.Logger
}

// NewRegistry creates a Registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]map[string]*Function),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a function under a tool name.
// Returns ErrFunctionCollision if the (tool, function) pair already exists.
func (r *Registry) Register(toolName string, fn *Function) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[toolName]; !ok {
		r.tools[toolName] = make(map[string]*Function)
	}
	if _, exists := r.tools[toolName][fn.Name]; exists {
		return fmt.Errorf("%w: %s.%s", ErrFunctionCollision, toolName, fn.Name)
	}
	if fn.Approval == "" {
		fn.Approval = ApprovalAuto
	}
	r.tools[toolName][fn.Name] = fn

	r.logger.Debug("tool function registered",
		"tool", toolName, "function", fn.Name, "approval", fn.Approval)
	return nil
}

// Lookup resolves a (tool, function) pair.
func (r *Registry) Lookup(toolName, functionName string) (*Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	functions, ok := r.tools[toolName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}
	fn, ok := functions[functionName]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrFunctionNotFound, toolName, functionName)
	}
	return fn, nil
}

// List returns descriptors for every registered function.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for toolName, functions := range r.tools {
		for _, fn := range functions {
			out = append(out, Descriptor{
				Tool:        toolName,
				Function:    fn.Name,
				Description: fn.Description,
				Schema:      fn.Schema,
				Tags:        fn.Tags,
				Approval:    fn.Approval,
			})
		}
	}
	return out
}
