// ABOUTME: Builtin tool functions every gateway ships with
// ABOUTME: Covers connectivity checks, link extraction, and transcript export

package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/2389/parley-gateway/internal/store"
	"github.com/2389/parley-gateway/internal/tool"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// registerBuiltins installs the base tool set on the registry.
func registerBuiltins(reg *tool.Registry, s store.Store) error {
	if err := reg.Register("base", &tool.Function{
		Name:        "ping",
		Description: "Connectivity check, returns the server time",
		Approval:    tool.ApprovalAuto,
		Handler: func(ctx context.Context, inv *tool.Invocation) (any, error) {
			return map[string]any{"pong": true, "time": time.Now().UTC().Format(time.RFC3339)}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register("links", &tool.Function{
		Name:        "extract",
		Description: "Collect URLs mentioned in recent room messages as an indexed result set",
		Tags:        []string{"room"},
		Approval:    tool.ApprovalAuto,
		Handler: func(ctx context.Context, inv *tool.Invocation) (any, error) {
			msgs, err := s.GetMessagesByRoom(ctx, inv.RoomID, 100)
			if err != nil {
				return nil, fmt.Errorf("loading messages: %w", err)
			}
			var items []tool.ResultItem
			seen := make(map[string]bool)
			for _, m := range msgs {
				for _, u := range urlPattern.FindAllString(m.Content, -1) {
					u = strings.TrimRight(u, ".,;)")
					if seen[u] {
						continue
					}
					seen[u] = true
					items = append(items, tool.ResultItem{URL: u})
				}
			}
			return items, nil
		},
	}); err != nil {
		return err
	}

	return reg.Register("history", &tool.Function{
		Name:        "export",
		Description: "Export the full room transcript as text",
		Tags:        []string{"room"},
		Approval:    tool.ApprovalAsk,
		Handler: func(ctx context.Context, inv *tool.Invocation) (any, error) {
			msgs, err := s.GetMessagesByRoom(ctx, inv.RoomID, 1000)
			if err != nil {
				return nil, fmt.Errorf("loading messages: %w", err)
			}
			var sb strings.Builder
			for _, m := range msgs {
				if m.Type != store.MessageTypeMessage {
					continue
				}
				fmt.Fprintf(&sb, "[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.AuthorID, m.Content)
			}
			return map[string]any{"transcript": sb.String(), "messages": len(msgs)}, nil
		},
	})
}
