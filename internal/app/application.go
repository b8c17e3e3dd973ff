package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"chatline/internal/api"
	"chatline/internal/config"
	"chatline/internal/database"
	"chatline/internal/hub"
	"chatline/internal/presence"
	"chatline/internal/router"
	"chatline/internal/websocket"
	pkgdatabase "chatline/pkg/database"
)

// Application wires every component and owns startup/shutdown ordering:
// Database -> Presence -> Router -> Hub -> WebSocket/API -> HTTP.
type Application struct {
	config     *config.Config
	store      *database.Manager
	registry   *presence.Registry
	rooms      *presence.Rooms
	msgRouter  *router.Router
	chatHub    *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication builds an application from configuration. Migration runs
// during construction so a schema mismatch fails fast.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.NewManager(&database.Config{
		Path:            cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	migrations := pkgdatabase.NewMigrationManager(store.GetDB())
	if err := migrations.ApplyMigrations(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	registry := presence.NewRegistry()
	rooms := presence.NewRooms()
	msgRouter := router.NewRouter(registry, rooms)
	chatHub := hub.NewHub(registry, rooms, msgRouter, store)
	apiServer := api.NewServer(store, chatHub)
	wsHandler := websocket.NewHandler(chatHub)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: mux,
		// No WriteTimeout: it would sever long-lived WebSocket connections.
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		registry:   registry,
		rooms:      rooms,
		msgRouter:  msgRouter,
		chatHub:    chatHub,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the hub and the HTTP listener.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("starting chatline on %s", app.httpServer.Addr)

	if err := app.chatHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.chatHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("chatline started")
		return nil
	case <-ctx.Done():
		_ = app.chatHub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse order: HTTP -> Hub -> Database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("shutting down chatline")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := app.chatHub.Stop(); err != nil {
		log.Printf("hub shutdown error: %v", err)
	}
	if err := app.store.Close(); err != nil {
		log.Printf("database shutdown error: %v", err)
	}

	log.Printf("chatline shutdown complete")
	return nil
}

// Addr returns the listener address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
