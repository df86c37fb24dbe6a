// ABOUTME: Runner that executes tool calls with lifecycle events and failure capture
// ABOUTME: Side-effecting functions short-circuit into suggestions under the approval policy

package tool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Notifier is the slice of the message bus the runner emits through.
type Notifier interface {
	BroadcastToRoom(roomID, method string, params any)
}

// Policy decides whether a user's call to a function needs confirmation.
type Policy interface {
	RequiresApproval(userID string, fn *Function) bool
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(userID string, fn *Function) bool

// RequiresApproval implements Policy.
func (f PolicyFunc) RequiresApproval(userID string, fn *Function) bool { return f(userID, fn) }

// DefaultPolicy gates every ask-mode function for every user.
var DefaultPolicy = PolicyFunc(func(userID string, fn *Function) bool {
	return fn.Approval == ApprovalAsk
})

// Call identifies one tool invocation.
type Call struct {
	RoomID   string
	UserID   string
	Tool     string
	Function string
	Args     map[string]any
}

// Result is the structured outcome of a call. A failing tool never
// propagates an error out of the runner.
type Result struct {
	RunID      string `json:"runId"`
	ToolCallID string `json:"toolCallId"`
	OK         bool   `json:"ok"`
	Pending    bool   `json:"pending,omitempty"` // gated behind approval
	Error      string `json:"error,omitempty"`
	Value      any    `json:"value,omitempty"`
	ResultSet  string `json:"resultSetId,omitempty"`
}

// Runner executes tool calls, emitting tool.call / tool.result events to the
// room and materializing discovery results as room-scoped ResultSets.
type Runner struct {
	registry  *Registry
	notifier  Notifier
	policy    Policy
	approvals *ApprovalGate
	results   *ResultCache
	logger    *slog.Logger
}

// NewRunner wires a Runner. Pass nil policy for DefaultPolicy, nil logger
// for default.
func NewRunner(registry *Registry, notifier Notifier, approvals *ApprovalGate, results *ResultCache, policy Policy, logger *slog.Logger) *Runner {
	if policy == nil {
		policy = DefaultPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry:  registry,
		notifier:  notifier,
		policy:    policy,
		approvals: approvals,
		results:   results,
		logger:    logger.With("component", "tool-runner"),
	}
}

// Results exposes the runner's ResultSet cache.
func (r *Runner) Results() *ResultCache { return r.results }

// Approvals exposes the runner's approval gate.
func (r *Runner) Approvals() *ApprovalGate { return r.approvals }

// Run executes a call. Unknown tools and handler failures come back as
// structured failure results; ask-mode functions under the caller's policy
// come back pending after broadcasting a suggestion.
func (r *Runner) Run(ctx context.Context, call Call) *Result {
	runID := uuid.New().String()
	toolCallID := uuid.New().String()

	fn, err := r.registry.Lookup(call.Tool, call.Function)
	if err != nil {
		return r.fail(call, runID, toolCallID, err)
	}

	if r.policy.RequiresApproval(call.UserID, fn) {
		summary := fmt.Sprintf("should I run %s.%s?", call.Tool, call.Function)
		suggestion := r.approvals.Add(call, summary)
		r.notifier.BroadcastToRoom(call.RoomID, "tool.suggested", map[string]any{
			"roomId":       call.RoomID,
			"suggestionId": suggestion.ID,
			"tool":         call.Tool,
			"function":     call.Function,
			"args":         call.Args,
			"summary":      summary,
		})
		r.logger.Info("tool call gated for approval",
			"room_id", call.RoomID, "tool", call.Tool, "function", call.Function)
		return &Result{RunID: runID, ToolCallID: toolCallID, Pending: true}
	}

	return r.execute(ctx, fn, call, runID, toolCallID)
}

// RunApproved executes a previously gated suggestion, bypassing the policy.
func (r *Runner) RunApproved(ctx context.Context, suggestion *Suggestion) *Result {
	runID := uuid.New().String()
	toolCallID := uuid.New().String()

	fn, err := r.registry.Lookup(suggestion.Call.Tool, suggestion.Call.Function)
	if err != nil {
		return r.fail(suggestion.Call, runID, toolCallID, err)
	}
	return r.execute(ctx, fn, suggestion.Call, runID, toolCallID)
}

// execute runs the handler between call-started and result events. Panics
// and errors are converted to failure results, never propagated.
func (r *Runner) execute(ctx context.Context, fn *Function, call Call, runID, toolCallID string) (result *Result) {
	r.notifier.BroadcastToRoom(call.RoomID, "tool.call", map[string]any{
		"roomId":     call.RoomID,
		"runId":      runID,
		"toolCallId": toolCallID,
		"tool":       call.Tool,
		"function":   call.Function,
		"args":       call.Args,
	})

	defer func() {
		if rec := recover(); rec != nil {
			result = r.fail(call, runID, toolCallID, fmt.Errorf("tool panicked: %v", rec))
		}
	}()

	inv := &Invocation{
		RoomID:     call.RoomID,
		UserID:     call.UserID,
		RunID:      runID,
		ToolCallID: toolCallID,
		Args:       call.Args,
	}
	value, err := fn.Handler(ctx, inv)
	if err != nil {
		return r.fail(call, runID, toolCallID, err)
	}

	result = &Result{RunID: runID, ToolCallID: toolCallID, OK: true, Value: value}

	// Discovery-type results materialize a room-scoped ResultSet so a later
	// "open result #N" resolves deterministically.
	if items, ok := value.([]ResultItem); ok && len(items) > 0 {
		set := r.results.Put(call.RoomID, items)
		result.ResultSet = set.ID
		result.Value = set
	}

	r.notifier.BroadcastToRoom(call.RoomID, "tool.result", map[string]any{
		"roomId":     call.RoomID,
		"runId":      runID,
		"toolCallId": toolCallID,
		"tool":       call.Tool,
		"function":   call.Function,
		"ok":         true,
		"value":      result.Value,
	})
	return result
}

// fail converts an error into a structured failure result and broadcasts it.
func (r *Runner) fail(call Call, runID, toolCallID string, err error) *Result {
	r.logger.Warn("tool call failed",
		"room_id", call.RoomID, "tool", call.Tool, "function", call.Function, "error", err)

	r.notifier.BroadcastToRoom(call.RoomID, "tool.result", map[string]any{
		"roomId":     call.RoomID,
		"runId":      runID,
		"toolCallId": toolCallID,
		"tool":       call.Tool,
		"function":   call.Function,
		"ok":         false,
		"error":      err.Error(),
	})
	return &Result{RunID: runID, ToolCallID: toolCallID, OK: false, Error: err.Error()}
}
