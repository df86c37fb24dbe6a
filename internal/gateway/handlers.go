// ABOUTME: JSON-RPC method dispatch and handlers for the gateway wire protocol
// ABOUTME: Covers room lifecycle, messages, presence, tools, and result sets

package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley-gateway/internal/registry"
	"github.com/2389/parley-gateway/internal/rpc"
	"github.com/2389/parley-gateway/internal/store"
	"github.com/2389/parley-gateway/internal/tool"
)

// handlerFunc processes one decoded request. The returned result is sent as
// the JSON-RPC response; a returned *rpc.Error becomes the error response.
type handlerFunc func(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error)

func (g *Gateway) buildMethodTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		"room.create":       g.handleRoomCreate,
		"room.list":         g.handleRoomList,
		"room.join":         g.handleRoomJoin,
		"room.leave":        g.handleRoomLeave,
		"room.invite":       g.handleRoomInvite,
		"room.remove":       g.handleRoomRemove,
		"room.history":      g.handleRoomHistory,
		"room.participants": g.handleRoomParticipants,
		"message.create":    g.handleMessageCreate,
		"message.read":      g.handleMessageRead,
		"typing.start":      g.handleTypingStart,
		"typing.stop":       g.handleTypingStop,
		"tool.invoke":       g.handleToolInvoke,
		"tool.list":         g.handleToolList,
		"resultset.open":    g.handleResultSetOpen,
	}
}

// handleFrame decodes and dispatches one inbound frame. Responses and errors
// go back over the bus so delivery shares the connection's write path.
func (g *Gateway) handleFrame(ctx context.Context, connID string, data []byte) {
	req, rpcErr := rpc.Decode(data)
	if rpcErr != nil {
		g.bus.SendError(connID, nil, rpcErr.Code, rpcErr.Message)
		return
	}

	handler, ok := g.methods[req.Method]
	if !ok {
		if !req.IsNotification() {
			g.bus.SendError(connID, req.ID, rpc.CodeMethodNotFound, "method not found: "+req.Method)
		}
		return
	}

	result, herr := handler(ctx, connID, req)
	if req.IsNotification() {
		return
	}
	if herr != nil {
		g.bus.SendError(connID, req.ID, herr.Code, herr.Message)
		return
	}
	g.bus.SendResponse(connID, req.ID, result)
}

// mapStoreError converts store sentinel errors into protocol errors.
func mapStoreError(err error) *rpc.Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &rpc.Error{Code: rpc.CodeInvalidParams, Message: "not found"}
	case errors.Is(err, store.ErrDuplicateRoom):
		return &rpc.Error{Code: rpc.CodeInvalidParams, Message: "room already exists"}
	default:
		return &rpc.Error{Code: rpc.CodeInternal, Message: err.Error()}
	}
}

// requireRoom verifies the connection has joined the given room.
func (g *Gateway) requireRoom(connID, roomID string) *rpc.Error {
	joined, ok := g.registry.RoomForConnection(connID)
	if !ok || joined != roomID {
		return &rpc.Error{Code: rpc.CodeForbidden, Message: "connection has not joined this room"}
	}
	return nil
}

type roomCreateParams struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	Name           string   `json:"name"`
	Participants   []string `json:"participants"`
	PrimaryAgentID string   `json:"primaryAgentId"`
}

func (g *Gateway) handleRoomCreate(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p roomCreateParams
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	switch p.Kind {
	case store.RoomKindDM, store.RoomKindAgent, store.RoomKindGroup:
	default:
		return nil, &rpc.Error{Code: rpc.CodeInvalidParams, Message: "kind must be dm, agent, or group"}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	room := &store.Room{
		ID:             p.ID,
		Kind:           p.Kind,
		Name:           p.Name,
		Participants:   p.Participants,
		PrimaryAgentID: p.PrimaryAgentID,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := g.store.CreateRoom(ctx, room); err != nil {
		return nil, mapStoreError(err)
	}
	g.logger.Info("room created", "room_id", room.ID, "kind", room.Kind)
	return roomPayload(room), nil
}

func (g *Gateway) handleRoomList(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	rooms, err := g.store.ListRooms(ctx)
	if err != nil {
		return nil, mapStoreError(err)
	}
	payloads := make([]map[string]any, 0, len(rooms))
	for _, room := range rooms {
		payloads = append(payloads, roomPayload(room))
	}
	return map[string]any{"rooms": payloads}, nil
}

type roomJoinParams struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId"`
	ActorID string `json:"actorId"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar"`
}

func (g *Gateway) handleRoomJoin(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p roomJoinParams
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if p.RoomID == "" || p.UserID == "" {
		return nil, &rpc.Error{Code: rpc.CodeInvalidParams, Message: "roomId and userId are required"}
	}
	if _, err := g.store.GetRoom(ctx, p.RoomID); err != nil {
		return nil, mapStoreError(err)
	}

	actorID := p.ActorID
	if actorID == "" {
		actorID = p.UserID
	}
	actor := &store.Actor{
		ID:      actorID,
		Kind:    store.ActorKindUser,
		OwnerID: p.UserID,
		Name:    p.Name,
		Avatar:  p.Avatar,
	}
	if err := g.store.UpsertActor(ctx, actor); err != nil {
		return nil, mapStoreError(err)
	}
	member := &store.RoomMember{RoomID: p.RoomID, ActorID: actorID, JoinedAt: time.Now().UTC()}
	if err := g.store.AddRoomMember(ctx, member); err != nil {
		return nil, mapStoreError(err)
	}

	g.registry.AddConnection(p.RoomID, connID, p.UserID)
	participants := g.broadcastParticipants(ctx, p.RoomID)
	if err := g.presence.BroadcastUnread(ctx, p.RoomID); err != nil {
		g.logger.Warn("unread broadcast failed", "room_id", p.RoomID, "error", err)
	}
	g.logger.Info("room joined", "room_id", p.RoomID, "user_id", p.UserID, "conn_id", connID)

	return map[string]any{"roomId": p.RoomID, "participants": participants}, nil
}

type roomRef struct {
	RoomID string `json:"roomId"`
}

type roomLeaveParams struct {
	RoomID  string `json:"roomId"`
	ActorID string `json:"actorId"`
}

func (g *Gateway) handleRoomLeave(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p roomLeaveParams
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}

	actorID := p.ActorID
	if actorID == "" {
		actorID, _ = g.registry.UserForConnection(connID)
	}
	g.registry.RemoveConnection(p.RoomID, connID)
	if actorID != "" {
		if err := g.store.RemoveRoomMember(ctx, p.RoomID, actorID); err != nil {
			g.logger.Warn("removing room member", "room_id", p.RoomID, "actor_id", actorID, "error", err)
		}
	}
	g.broadcastParticipants(ctx, p.RoomID)
	return map[string]any{"roomId": p.RoomID}, nil
}

type agentRef struct {
	RoomID  string `json:"roomId"`
	AgentID string `json:"agentId"`
}

func (g *Gateway) handleRoomInvite(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p agentRef
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}
	if _, err := g.store.GetAgent(ctx, p.AgentID); err != nil {
		return nil, mapStoreError(err)
	}
	g.registry.InviteAgent(p.RoomID, p.AgentID)
	participants := g.broadcastParticipants(ctx, p.RoomID)
	g.logger.Info("agent invited", "room_id", p.RoomID, "agent_id", p.AgentID)
	return map[string]any{"roomId": p.RoomID, "participants": participants}, nil
}

func (g *Gateway) handleRoomRemove(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p agentRef
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}
	g.registry.RemoveAgent(p.RoomID, p.AgentID)
	participants := g.broadcastParticipants(ctx, p.RoomID)
	return map[string]any{"roomId": p.RoomID, "participants": participants}, nil
}

type roomHistoryParams struct {
	RoomID string `json:"roomId"`
	Limit  int    `json:"limit"`
}

func (g *Gateway) handleRoomHistory(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p roomHistoryParams
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	msgs, err := g.store.GetMessagesByRoom(ctx, p.RoomID, p.Limit)
	if err != nil {
		return nil, mapStoreError(err)
	}
	payloads := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		payloads = append(payloads, messagePayload(m))
	}
	return map[string]any{"roomId": p.RoomID, "messages": payloads}, nil
}

func (g *Gateway) handleRoomParticipants(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p roomRef
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}
	participants, err := g.registry.BuildParticipants(ctx, p.RoomID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return map[string]any{"roomId": p.RoomID, "participants": participants}, nil
}

type messageCreateParams struct {
	RoomID   string `json:"roomId"`
	AuthorID string `json:"authorId"`
	Content  string `json:"content"`
}

func (g *Gateway) handleMessageCreate(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p messageCreateParams
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if p.RoomID == "" || p.AuthorID == "" || p.Content == "" {
		return nil, &rpc.Error{Code: rpc.CodeInvalidParams, Message: "roomId, authorId, and content are required"}
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}
	room, err := g.store.GetRoom(ctx, p.RoomID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		RoomID:    p.RoomID,
		AuthorID:  p.AuthorID,
		Content:   p.Content,
		Type:      store.MessageTypeMessage,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.SaveMessage(ctx, msg); err != nil {
		return nil, mapStoreError(err)
	}

	g.presence.TypingStop(p.RoomID, p.AuthorID)
	g.bus.BroadcastToRoom(p.RoomID, "message.received", messagePayload(msg))
	if err := g.presence.BroadcastUnread(ctx, p.RoomID); err != nil {
		g.logger.Warn("unread broadcast failed", "room_id", p.RoomID, "error", err)
	}

	g.routeMessage(ctx, room, msg)

	return messagePayload(msg), nil
}

// routeMessage decides who responds to a freshly persisted user message.
// Approval phrases are consumed before routing; agent-authored messages
// never retrigger agent responses.
func (g *Gateway) routeMessage(ctx context.Context, room *store.Room, msg *store.Message) {
	if g.authorIsAgent(ctx, msg.AuthorID) {
		return
	}

	approvals := g.runner.Approvals()
	if suggestion, ok := approvals.MatchNegative(room.ID, msg.Content); ok {
		g.bus.BroadcastToRoom(room.ID, "tool.rejected", map[string]any{
			"roomId":       room.ID,
			"suggestionId": suggestion.ID,
		})
		return
	}
	if suggestion, ok := approvals.MatchAffirmative(room.ID, msg.Content); ok {
		go g.executeApproved(context.WithoutCancel(ctx), suggestion)
		return
	}

	candidates, err := g.router.Route(ctx, room.ID, msg.Content)
	if err != nil {
		g.logger.Error("routing failed", "room_id", room.ID, "error", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	if room.Kind == store.RoomKindAgent && room.PrimaryAgentID != "" {
		go g.sched.RunPrimary(context.WithoutCancel(ctx), room.ID, room.PrimaryAgentID)
		return
	}
	g.sched.Submit(ctx, room.ID, candidates)
}

// executeApproved runs a gated suggestion and records its transcript entries.
func (g *Gateway) executeApproved(ctx context.Context, suggestion *tool.Suggestion) {
	result := g.runner.RunApproved(ctx, suggestion)
	g.recordToolExchange(ctx, suggestion.Call, result)
}

func (g *Gateway) authorIsAgent(ctx context.Context, actorID string) bool {
	actor, err := g.store.GetActor(ctx, actorID)
	if err != nil {
		return false
	}
	return actor.Kind == store.ActorKindAgent
}

type messageReadParams struct {
	RoomID    string `json:"roomId"`
	ActorID   string `json:"actorId"`
	MessageID string `json:"messageId"`
}

func (g *Gateway) handleMessageRead(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p messageReadParams
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}
	if err := g.presence.RecordRead(ctx, p.RoomID, p.ActorID, p.MessageID, time.Now().UTC()); err != nil {
		return nil, mapStoreError(err)
	}
	return map[string]any{"ok": true}, nil
}

type typingParams struct {
	RoomID  string `json:"roomId"`
	ActorID string `json:"actorId"`
	TTLMs   int    `json:"ttlMs"`
}

func (g *Gateway) handleTypingStart(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p typingParams
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}
	ttl := g.config.Presence.TypingTTL
	if p.TTLMs > 0 {
		ttl = time.Duration(p.TTLMs) * time.Millisecond
	}
	g.presence.TypingStart(p.RoomID, p.ActorID, ttl)
	return map[string]any{"ok": true}, nil
}

func (g *Gateway) handleTypingStop(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p typingParams
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}
	g.presence.TypingStop(p.RoomID, p.ActorID)
	return map[string]any{"ok": true}, nil
}

type toolInvokeParams struct {
	RoomID   string         `json:"roomId"`
	Tool     string         `json:"tool"`
	Function string         `json:"function"`
	Args     map[string]any `json:"args"`
}

func (g *Gateway) handleToolInvoke(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p toolInvokeParams
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}
	userID, _ := g.registry.UserForConnection(connID)

	call := tool.Call{
		RoomID:   p.RoomID,
		UserID:   userID,
		Tool:     p.Tool,
		Function: p.Function,
		Args:     p.Args,
	}
	result := g.runner.Run(ctx, call)
	if result.OK || result.Pending {
		g.recordToolExchange(ctx, call, result)
	}
	return result, nil
}

func (g *Gateway) handleToolList(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	return map[string]any{"tools": g.tools.List()}, nil
}

type resultSetOpenParams struct {
	RoomID string `json:"roomId"`
	SetID  string `json:"setId"`
	Index  int    `json:"index"`
}

func (g *Gateway) handleResultSetOpen(ctx context.Context, connID string, req *rpc.Request) (any, *rpc.Error) {
	var p resultSetOpenParams
	if herr := rpc.UnmarshalParams(req, &p); herr != nil {
		return nil, herr
	}
	if herr := g.requireRoom(connID, p.RoomID); herr != nil {
		return nil, herr
	}

	var item *tool.ResultItem
	var err error
	if p.SetID != "" {
		item, err = g.runner.Results().Open(p.SetID, p.RoomID, p.Index)
	} else {
		item, err = g.runner.Results().Resolve(p.RoomID, p.Index)
	}
	if err != nil {
		return nil, &rpc.Error{Code: rpc.CodeInvalidParams, Message: err.Error()}
	}
	return item, nil
}

// recordToolExchange persists tool_use and tool_result transcript entries
// for a completed or pending tool call.
func (g *Gateway) recordToolExchange(ctx context.Context, call tool.Call, result *tool.Result) {
	use := &store.Message{
		ID:        uuid.New().String(),
		RoomID:    call.RoomID,
		AuthorID:  call.UserID,
		Content:   call.Tool + "." + call.Function,
		Type:      store.MessageTypeToolUse,
		ToolName:  call.Tool,
		ToolID:    result.ToolCallID,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.SaveMessage(ctx, use); err != nil {
		g.logger.Error("saving tool_use message", "room_id", call.RoomID, "error", err)
	}
	if result.Pending {
		return
	}

	content := "ok"
	if !result.OK {
		content = result.Error
	}
	res := &store.Message{
		ID:        uuid.New().String(),
		RoomID:    call.RoomID,
		AuthorID:  call.UserID,
		Content:   content,
		Type:      store.MessageTypeToolResult,
		ToolName:  call.Tool,
		ToolID:    result.ToolCallID,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.SaveMessage(ctx, res); err != nil {
		g.logger.Error("saving tool_result message", "room_id", call.RoomID, "error", err)
	}
}

// broadcastParticipants recomputes and pushes the room's participant list.
func (g *Gateway) broadcastParticipants(ctx context.Context, roomID string) []registry.Participant {
	participants, err := g.registry.BuildParticipants(ctx, roomID)
	if err != nil {
		g.logger.Error("building participants", "room_id", roomID, "error", err)
		return nil
	}
	g.bus.BroadcastToRoom(roomID, "room.participants", map[string]any{
		"roomId":       roomID,
		"participants": participants,
	})
	return participants
}

func roomPayload(room *store.Room) map[string]any {
	return map[string]any{
		"id":             room.ID,
		"kind":           room.Kind,
		"name":           room.Name,
		"participants":   room.Participants,
		"primaryAgentId": room.PrimaryAgentID,
		"createdAt":      room.CreatedAt.Format(time.RFC3339),
	}
}

func messagePayload(msg *store.Message) map[string]any {
	payload := map[string]any{
		"id":        msg.ID,
		"roomId":    msg.RoomID,
		"authorId":  msg.AuthorID,
		"content":   msg.Content,
		"type":      msg.Type,
		"createdAt": msg.CreatedAt.Format(time.RFC3339Nano),
	}
	if msg.ToolName != "" {
		payload["toolName"] = msg.ToolName
		payload["toolId"] = msg.ToolID
	}
	return payload
}
