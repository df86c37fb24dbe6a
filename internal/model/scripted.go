// ABOUTME: Scripted and echo Completer implementations for tests and dev runs
// ABOUTME: No network; chunks are replayed from a fixed script or derived from input

package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ScriptedCompleter replays a fixed chunk sequence per agent, falling back to
// a default script. Useful in tests and as a stand-in backend.
type ScriptedCompleter struct {
	mu       sync.Mutex
	scripts  map[string][]Chunk // agentID -> chunks
	fallback []Chunk
	requests []*Request
}

// NewScriptedCompleter creates a ScriptedCompleter with a default script.
func NewScriptedCompleter(fallback ...Chunk) *ScriptedCompleter {
	return &ScriptedCompleter{
		scripts:  make(map[string][]Chunk),
		fallback: fallback,
	}
}

// Script sets the chunk sequence replayed for one agent.
func (c *ScriptedCompleter) Script(agentID string, chunks ...Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[agentID] = chunks
}

// Requests returns the completion requests seen so far.
func (c *ScriptedCompleter) Requests() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Complete implements Completer.
func (c *ScriptedCompleter) Complete(ctx context.Context, req *Request) (<-chan Chunk, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	chunks, ok := c.scripts[req.AgentID]
	if !ok {
		chunks = c.fallback
	}
	c.mu.Unlock()

	out := make(chan Chunk, len(chunks)+1)
	go func() {
		defer close(out)
		for _, chunk := range chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// EchoCompleter answers every request by echoing the last user turn. It is
// the default backend for local serve runs without an upstream model.
type EchoCompleter struct{}

// Complete implements Completer.
func (EchoCompleter) Complete(ctx context.Context, req *Request) (<-chan Chunk, error) {
	last := ""
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == "user" {
			last = req.History[i].Content
			break
		}
	}
	text := fmt.Sprintf("you said: %s", strings.TrimSpace(last))

	out := make(chan Chunk, len(text)/8+2)
	go func() {
		defer close(out)
		for len(text) > 0 {
			n := 8
			if n > len(text) {
				n = len(text)
			}
			select {
			case out <- Chunk{Delta: text[:n]}:
			case <-ctx.Done():
				return
			}
			text = text[n:]
		}
		out <- Chunk{FinishReason: FinishStop, Usage: &Usage{OutputTokens: 1}}
	}()
	return out, nil
}
