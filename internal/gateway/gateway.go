// ABOUTME: Gateway orchestrator wiring store, bus, registry, presence, tools, and scheduler
// ABOUTME: Serves the WebSocket JSON-RPC endpoint and health checks over HTTP

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/2389/parley-gateway/internal/bus"
	"github.com/2389/parley-gateway/internal/config"
	"github.com/2389/parley-gateway/internal/model"
	"github.com/2389/parley-gateway/internal/presence"
	"github.com/2389/parley-gateway/internal/registry"
	"github.com/2389/parley-gateway/internal/route"
	"github.com/2389/parley-gateway/internal/store"
	"github.com/2389/parley-gateway/internal/tool"
	"github.com/2389/parley-gateway/internal/turn"
)

// Gateway coordinates the parley-gateway server components. It owns the
// message bus, connection registry, presence tracker, tool runner, router,
// and turn scheduler, and serves them over a WebSocket JSON-RPC endpoint.
type Gateway struct {
	config     *config.Config
	store      store.Store
	bus        *bus.Bus
	registry   *registry.Registry
	presence   *presence.Tracker
	tools      *tool.Registry
	runner     *tool.Runner
	router     *route.Router
	sched      *turn.Scheduler
	completer  model.Completer
	httpServer *http.Server
	logger     *slog.Logger

	methods map[string]handlerFunc
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PARLEY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway backed by the configured SQLite store.
func New(cfg *config.Config, completer model.Completer, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, s, completer, logger)
}

// NewWithStore creates a Gateway on an already-open store.
func NewWithStore(cfg *config.Config, s store.Store, completer model.Completer, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config:    cfg,
		store:     s,
		completer: completer,
		logger:    logger,
	}

	g.bus = bus.New(logger.With("component", "bus"))
	g.registry = registry.New(s, logger.With("component", "registry"))
	g.bus.SetResolver(g.registry)
	g.presence = presence.New(s, g.bus, logger.With("component", "presence"))
	g.router = route.New(s, g.registry, logger.With("component", "router"))

	g.tools = tool.NewRegistry(logger.With("component", "tool-registry"))
	approvals := tool.NewApprovalGate(cfg.Tools.SuggestionTTL)
	results := tool.NewResultCache(cfg.Tools.ResultTTL)
	g.runner = tool.NewRunner(g.tools, g.bus, approvals, results, nil, logger.With("component", "tools"))

	g.sched = turn.New(g.runAgent, g.cooldownFor, logger.With("component", "scheduler"))

	if err := registerBuiltins(g.tools, s); err != nil {
		return nil, fmt.Errorf("registering builtin tools: %w", err)
	}

	g.methods = g.buildMethodTable()

	mux := chi.NewRouter()
	mux.Use(chimiddleware.Recoverer)
	mux.Get("/healthz", g.handleHealth)
	mux.Get("/ws", g.handleWS)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Tools exposes the function registry so callers can register more tools
// before Run.
func (g *Gateway) Tools() *tool.Registry { return g.tools }

// SeedPersonas upserts the configured agent personas and their actor records.
func (g *Gateway) SeedPersonas(ctx context.Context, agents []store.Agent) error {
	for i := range agents {
		a := agents[i]
		if err := g.store.UpsertAgent(ctx, &a); err != nil {
			return fmt.Errorf("upserting agent %s: %w", a.ID, err)
		}
		actor := &store.Actor{
			ID:      a.ID,
			Kind:    store.ActorKindAgent,
			OwnerID: a.ID,
			Name:    a.Name,
			Avatar:  a.Avatar,
		}
		if err := g.store.UpsertActor(ctx, actor); err != nil {
			return fmt.Errorf("upserting actor for agent %s: %w", a.ID, err)
		}
	}
	g.logger.Info("personas seeded", "count", len(agents))
	return nil
}

// cooldownFor looks up an agent's configured cooldown for the scheduler.
func (g *Gateway) cooldownFor(agentID string) time.Duration {
	agent, err := g.store.GetAgent(context.Background(), agentID)
	if err != nil {
		return 0
	}
	return time.Duration(agent.CooldownSeconds) * time.Second
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	g.logger.Info("gateway listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
		return g.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// Shutdown stops the HTTP server and closes the gateway's components.
func (g *Gateway) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("shutting down http server: %w", err)
	}

	g.runner.Results().Close()

	if err := g.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}

	g.logger.Info("gateway stopped")
	return firstErr
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleWS upgrades the request and runs the connection's read loop. One
// goroutine per connection; frames from the same connection are processed
// in arrival order.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Error("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := newWSConn(sock)
	g.bus.Register(conn)
	g.logger.Info("connection opened", "conn_id", conn.ID(), "remote", r.RemoteAddr)

	defer g.dropConnection(conn)

	for {
		typ, data, err := sock.Read(r.Context())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				g.logger.Debug("connection read ended", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		g.handleFrame(r.Context(), conn.ID(), data)
	}
}

// dropConnection tears down a connection's registry and presence state and
// tells the room who is left.
func (g *Gateway) dropConnection(conn *wsConn) {
	conn.close(websocket.StatusNormalClosure, "bye")

	roomID, inRoom := g.registry.RoomForConnection(conn.ID())
	g.bus.Unregister(conn.ID())
	if inRoom {
		g.registry.RemoveConnection(roomID, conn.ID())
		g.broadcastParticipants(context.Background(), roomID)
	}
	g.logger.Info("connection closed", "conn_id", conn.ID())
}
