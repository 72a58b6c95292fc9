// ABOUTME: Gateway orchestrator wiring store, auth, agent, and the HTTP server
// ABOUTME: Manages startup, the route table, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/closetly/closet-gateway/internal/agent"
	"github.com/closetly/closet-gateway/internal/auth"
	"github.com/closetly/closet-gateway/internal/config"
	"github.com/closetly/closet-gateway/internal/registry"
	"github.com/closetly/closet-gateway/internal/store"
)

// Gateway orchestrates the closet-gateway server components: the
// websocket chat endpoint, the history REST API, and the health check.
type Gateway struct {
	config     *config.Config
	store      store.Store
	registry   *registry.Registry
	dispatcher *Dispatcher
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a gateway from config. The store is opened and the
// schema initialized here; Run only starts serving.
func New(cfg *config.Config) (*Gateway, error) {
	logger := slog.Default().With("component", "gateway")

	st, err := initStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	reg := registry.New(st)

	var invoker agent.Invoker
	if cfg.AgentConfigured() {
		invoker = agent.NewClient(cfg.Agent.Endpoint, cfg.Agent.AgentID, cfg.Agent.AgentAliasID, cfg.Agent.RequestTimeout)
		logger.Info("using remote agent", "endpoint", cfg.Agent.Endpoint, "agent_id", cfg.Agent.AgentID)
	} else {
		invoker = agent.NewFallback(cfg.Fallback.ChunkDelay)
		logger.Warn("no agent configured, using fallback responder")
	}

	dispatcher := NewDispatcher(st, reg, verifier, invoker)

	g := &Gateway{
		config:     cfg,
		store:      st,
		registry:   reg,
		dispatcher: dispatcher,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(dispatcher, reg))
	NewAPIHandler(st, verifier).Register(mux)
	mux.HandleFunc("GET /health", g.handleHealth)

	g.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	return g, nil
}

// initStore opens the SQLite store, honoring a path override from the
// environment for containerized deployments.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CLOSET_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	return store.NewSQLiteStore(dbPath)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Run serves until the context is canceled or the server fails, then
// shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.config.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		g.logger.Error("server error", "error", serveErr)
	}

	if err := g.shutdown(); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// shutdown stops the HTTP server with a timeout and closes the store
func (g *Gateway) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		g.logger.Error("HTTP shutdown error", "error", err)
		firstErr = err
	}

	if err := g.store.Close(); err != nil {
		g.logger.Error("store close error", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	g.logger.Info("gateway stopped")
	return firstErr
}
