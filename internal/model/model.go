// ABOUTME: Model-completion collaborator interface consumed by the response loop
// ABOUTME: A Completer yields a channel of delta/tool-call/finish chunks

package model

import (
	"context"
)

// FinishReason values reported on the terminal chunk of a stream.
const (
	FinishStop  = "stop"
	FinishError = "error"
)

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// ToolCall asks the orchestrator to run a tool on the agent's behalf.
type ToolCall struct {
	Tool     string
	Function string
	Args     map[string]any
}

// Chunk is one event of a completion stream. Exactly one of Delta, ToolCall,
// or Err is meaningful per chunk; FinishReason is set on the last chunk.
type Chunk struct {
	Delta        string
	ToolCall     *ToolCall
	FinishReason string
	Usage        *Usage
	Err          error
}

// Turn is one prior message given to the model as context.
type Turn struct {
	Role    string // "user" or "assistant"
	Author  string
	Content string
}

// Request describes one completion call.
type Request struct {
	AgentID      string
	Model        string
	SystemPrompt string
	History      []Turn
}

// Completer is the opaque upstream completion collaborator. The returned
// channel is closed after the terminal chunk; cancelling ctx abandons the
// stream.
type Completer interface {
	Complete(ctx context.Context, req *Request) (<-chan Chunk, error)
}
