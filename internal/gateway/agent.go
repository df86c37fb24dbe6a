// ABOUTME: Agent response streaming driven by the turn scheduler
// ABOUTME: Emits run.status and message.delta events, handles mid-run tool calls

package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/parley-gateway/internal/model"
	"github.com/2389/parley-gateway/internal/rpc"
	"github.com/2389/parley-gateway/internal/store"
	"github.com/2389/parley-gateway/internal/tool"
)

// historyLimit bounds the transcript sent upstream per completion.
const historyLimit = 50

// runAgent streams one agent response into a room. The scheduler guarantees
// at most one invocation per room at a time; ctx is detached from the
// originating request, so a response finishes even after the sender
// disconnects.
func (g *Gateway) runAgent(ctx context.Context, roomID, agentID string) {
	agent, err := g.store.GetAgent(ctx, agentID)
	if err != nil {
		g.logger.Error("agent lookup failed", "room_id", roomID, "agent_id", agentID, "error", err)
		return
	}

	runID := uuid.New().String()
	g.emitRunStatus(roomID, runID, agentID, "started", 0)

	history, err := g.buildHistory(ctx, roomID)
	if err != nil {
		g.logger.Error("history load failed", "room_id", roomID, "error", err)
		g.emitRunStatus(roomID, runID, agentID, "failed", rpc.CodeInternal)
		return
	}

	chunks, err := g.completer.Complete(ctx, &model.Request{
		AgentID:      agentID,
		Model:        agent.Model,
		SystemPrompt: agent.SystemPrompt,
		History:      history,
	})
	if err != nil {
		g.logger.Error("completion start failed", "room_id", roomID, "agent_id", agentID, "error", err)
		g.emitRunStatus(roomID, runID, agentID, "failed", rpc.CodeUpstream)
		return
	}

	var sb strings.Builder
	var usage *model.Usage
	streaming := false
	failed := false

	for chunk := range chunks {
		switch {
		case chunk.Err != nil || chunk.FinishReason == model.FinishError:
			g.logger.Error("completion stream failed",
				"room_id", roomID, "agent_id", agentID, "error", chunk.Err)
			failed = true

		case chunk.ToolCall != nil:
			// Tool calls run sequentially; the next chunk is not consumed
			// until the result is in.
			g.runAgentTool(ctx, roomID, agentID, chunk.ToolCall)

		case chunk.Delta != "":
			if !streaming {
				streaming = true
				g.emitRunStatus(roomID, runID, agentID, "streaming", 0)
			}
			sb.WriteString(chunk.Delta)
			g.bus.BroadcastToRoom(roomID, "message.delta", map[string]any{
				"roomId":  roomID,
				"runId":   runID,
				"agentId": agentID,
				"delta":   chunk.Delta,
			})
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	if failed {
		g.emitRunStatus(roomID, runID, agentID, "failed", rpc.CodeUpstream)
		return
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		AuthorID:  agentID,
		Content:   sb.String(),
		Type:      store.MessageTypeMessage,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.SaveMessage(ctx, msg); err != nil {
		g.logger.Error("saving agent message", "room_id", roomID, "agent_id", agentID, "error", err)
		g.emitRunStatus(roomID, runID, agentID, "failed", rpc.CodeInternal)
		return
	}

	complete := map[string]any{
		"roomId":    roomID,
		"runId":     runID,
		"agentId":   agentID,
		"messageId": msg.ID,
		"content":   msg.Content,
	}
	if usage != nil {
		complete["usage"] = usage
	}
	g.bus.BroadcastToRoom(roomID, "message.complete", complete)
	g.emitRunStatus(roomID, runID, agentID, "completed", 0)

	if err := g.presence.BroadcastUnread(ctx, roomID); err != nil {
		g.logger.Warn("unread broadcast failed", "room_id", roomID, "error", err)
	}
}

// runAgentTool executes one tool call emitted mid-stream and persists the
// exchange to the transcript.
func (g *Gateway) runAgentTool(ctx context.Context, roomID, agentID string, tc *model.ToolCall) {
	call := tool.Call{
		RoomID:   roomID,
		UserID:   agentID,
		Tool:     tc.Tool,
		Function: tc.Function,
		Args:     tc.Args,
	}
	result := g.runner.Run(ctx, call)
	g.recordToolExchange(ctx, call, result)
}

// buildHistory loads the room transcript as completion turns, oldest first.
// Tool transcript entries are skipped; the upstream only sees conversation.
func (g *Gateway) buildHistory(ctx context.Context, roomID string) ([]model.Turn, error) {
	msgs, err := g.store.GetMessagesByRoom(ctx, roomID, historyLimit)
	if err != nil {
		return nil, err
	}
	agents, err := g.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	agentIDs := lo.SliceToMap(agents, func(a *store.Agent) (string, struct{}) {
		return a.ID, struct{}{}
	})

	turns := make([]model.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Type != store.MessageTypeMessage {
			continue
		}
		role := "user"
		if _, ok := agentIDs[m.AuthorID]; ok {
			role = "assistant"
		}
		turns = append(turns, model.Turn{Role: role, Author: m.AuthorID, Content: m.Content})
	}
	return turns, nil
}

func (g *Gateway) emitRunStatus(roomID, runID, agentID, status string, code int) {
	params := map[string]any{
		"roomId":  roomID,
		"runId":   runID,
		"agentId": agentID,
		"status":  status,
	}
	if code != 0 {
		params["code"] = code
	}
	g.bus.BroadcastToRoom(roomID, "run.status", params)
}
