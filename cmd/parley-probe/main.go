// ABOUTME: Interactive WebSocket probe client for a running parley-gateway
// ABOUTME: Joins a room, sends stdin lines as messages, prints room events

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
)

type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", "localhost:8420", "gateway address")
	roomID := flag.String("room", "", "room to join (required)")
	userID := flag.String("user", "probe", "user id to join as")
	flag.Parse()

	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "Usage: parley-probe -room ROOM [-addr HOST:PORT] [-user ID]")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, *roomID, *userID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, roomID, userID string) error {
	url := fmt.Sprintf("ws://%s/ws", addr)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	gray := color.New(color.FgHiBlack)
	gray.Printf("connected to %s\n", url)

	nextID := 0
	send := func(method string, params any) error {
		nextID++
		id := nextID
		return write(ctx, conn, frame{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	}

	if err := send("room.join", map[string]any{"roomId": roomID, "userId": userID, "name": userID}); err != nil {
		return fmt.Errorf("joining room: %w", err)
	}

	// Reader goroutine prints everything the gateway pushes.
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			printFrame(data)
		}
	}()

	// Stdin lines become messages; /tool and /open invoke the tool pipeline.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var err error
		switch {
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/tool "):
			parts := strings.Fields(line)
			if len(parts) < 2 || !strings.Contains(parts[1], ".") {
				fmt.Println("usage: /tool TOOL.FUNCTION")
				continue
			}
			tf := strings.SplitN(parts[1], ".", 2)
			err = send("tool.invoke", map[string]any{
				"roomId": roomID, "tool": tf[0], "function": tf[1],
			})
		case strings.HasPrefix(line, "/open "):
			var index int
			if _, scanErr := fmt.Sscanf(line, "/open %d", &index); scanErr != nil {
				fmt.Println("usage: /open INDEX")
				continue
			}
			err = send("resultset.open", map[string]any{"roomId": roomID, "index": index})
		default:
			err = send("message.create", map[string]any{
				"roomId": roomID, "authorId": userID, "content": line,
			})
		}
		if err != nil {
			return fmt.Errorf("sending: %w", err)
		}
	}
	return scanner.Err()
}

func write(ctx context.Context, conn *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// printFrame renders one inbound frame with per-event coloring.
func printFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		fmt.Println(string(data))
		return
	}

	switch {
	case f.Error != nil:
		color.New(color.FgRed).Printf("error %d: %s\n", f.Error.Code, f.Error.Message)
	case f.ID != nil:
		color.New(color.FgHiBlack).Printf("← %s\n", string(f.Result))
	default:
		printEvent(f.Method, f.Params)
	}
}

func printEvent(method string, params any) {
	p, _ := params.(map[string]any)
	str := func(key string) string {
		s, _ := p[key].(string)
		return s
	}

	switch method {
	case "message.received":
		color.New(color.FgWhite, color.Bold).Printf("%s: ", str("authorId"))
		fmt.Println(str("content"))
	case "message.delta":
		fmt.Print(str("delta"))
	case "message.complete":
		fmt.Println()
		color.New(color.FgCyan).Printf("%s done\n", str("agentId"))
	case "run.status":
		color.New(color.FgHiBlack).Printf("[%s %s]\n", str("agentId"), str("status"))
	case "room.typing":
		actors, _ := p["actors"].([]any)
		if len(actors) > 0 {
			color.New(color.FgHiBlack).Printf("typing: %v\n", actors)
		}
	case "tool.suggested":
		color.New(color.FgYellow).Printf("suggested: %s (reply yes/no)\n", str("summary"))
	case "tool.result":
		color.New(color.FgGreen).Println("tool result received")
	case "room.unread", "message.receipts", "room.participants":
		// quiet by default
	default:
		raw, _ := json.Marshal(p)
		color.New(color.FgHiBlack).Printf("%s %s\n", method, string(raw))
	}
}
