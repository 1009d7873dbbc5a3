// Package api assembles the HTTP server: engine, middleware, routes, and the
// hot-swappable client credentials.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/relay-for-me/AccountRelayAPI/internal/account"
	"github.com/relay-for-me/AccountRelayAPI/internal/api/handlers"
	claudeHandlers "github.com/relay-for-me/AccountRelayAPI/internal/api/handlers/claude"
	codexHandlers "github.com/relay-for-me/AccountRelayAPI/internal/api/handlers/codex"
	geminiHandlers "github.com/relay-for-me/AccountRelayAPI/internal/api/handlers/gemini"
	managementHandlers "github.com/relay-for-me/AccountRelayAPI/internal/api/handlers/management"
	openaiHandlers "github.com/relay-for-me/AccountRelayAPI/internal/api/handlers/openai"
	"github.com/relay-for-me/AccountRelayAPI/internal/api/middleware"
	"github.com/relay-for-me/AccountRelayAPI/internal/config"
	"github.com/relay-for-me/AccountRelayAPI/internal/logging"
	"github.com/relay-for-me/AccountRelayAPI/internal/relay"
	"github.com/relay-for-me/AccountRelayAPI/internal/scheduler"
	"github.com/relay-for-me/AccountRelayAPI/internal/store"
)

// Server is the HTTP front of the relay.
type Server struct {
	// engine is the gin engine handling requests.
	engine *gin.Engine

	// server is the underlying HTTP server.
	server *http.Server

	// cfg holds the configuration the server was started with.
	cfg *config.Config

	// base bundles the dependencies shared by all endpoint handlers.
	base *handlers.BaseHandler

	// apiKeys is the hot-swappable client key allow-list.
	apiKeys *middleware.APIKeys

	// managementKey guards the management endpoints.
	managementKey *middleware.ManagementKey
}

// NewServer creates and initializes the API server: gin engine, middleware,
// and routes. Management routes are registered only when a management key is
// configured at startup.
func NewServer(cfg *config.Config, registry *account.Registry, sched *scheduler.Scheduler, relayer *relay.Relayer, st *store.Store) *Server {
	if cfg.Server.LogLevel != "debug" && cfg.Server.LogLevel != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(corsMiddleware())

	s := &Server{
		engine:        engine,
		cfg:           cfg,
		base:          handlers.NewBaseHandler(registry, sched, relayer, st),
		apiKeys:       middleware.NewAPIKeys(cfg.APIKeys),
		managementKey: middleware.NewManagementKey(cfg.Server.ManagementKey),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}
	return s
}

// setupRoutes configures the API routes and associates them with their
// handlers.
func (s *Server) setupRoutes() {
	claudeHandler := claudeHandlers.NewHandler(s.base)
	geminiHandler := geminiHandlers.NewHandler(s.base)
	openaiHandler := openaiHandlers.NewHandler(s.base)
	codexHandler := codexHandlers.NewHandler(s.base)

	auth := middleware.Auth(s.apiKeys)

	// Anthropic-native routes
	v1 := s.engine.Group("/v1")
	v1.Use(auth)
	{
		v1.POST("/messages", claudeHandler.Messages)
		v1.GET("/models", claudeHandler.Models)
		v1.POST("/responses", codexHandler.Responses)
	}

	apiV1 := s.engine.Group("/api/v1")
	apiV1.Use(auth)
	{
		apiV1.POST("/messages", claudeHandler.Messages)
		apiV1.GET("/models", claudeHandler.Models)
	}

	claudeV1 := s.engine.Group("/claude/v1")
	claudeV1.Use(auth)
	{
		claudeV1.POST("/messages", claudeHandler.Messages)
	}

	// Gemini routes; the wildcard carries "{model}:{method}"
	geminiV1 := s.engine.Group("/gemini/v1")
	geminiV1.Use(auth)
	{
		geminiV1.GET("/models", geminiHandler.Models)
		geminiV1.POST("/models/*modelAction", geminiHandler.Generate)
	}

	// OpenAI-compatible routes
	openaiV1 := s.engine.Group("/openai/v1")
	openaiV1.Use(auth)
	{
		openaiV1.POST("/chat/completions", openaiHandler.ChatCompletions)
		openaiV1.GET("/models", openaiHandler.Models)
		openaiV1.POST("/responses", codexHandler.Responses)
	}

	s.engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	// Management routes are not registered at all without a key; enabling
	// management requires a restart.
	if s.cfg.Server.ManagementKey != "" {
		managementHandler := managementHandlers.NewHandler(s.base)
		mgmt := s.engine.Group("/v0/management")
		mgmt.Use(middleware.ManagementAuth(s.managementKey))
		{
			mgmt.GET("/accounts", managementHandler.Accounts)
			mgmt.PATCH("/accounts/:id", managementHandler.PatchAccount)
			mgmt.GET("/usage", managementHandler.Usage)
		}
	}
}

// Start begins listening for and serving HTTP requests. It blocks until the
// server stops.
func (s *Server) Start() error {
	log.Infof("API server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting active
// connections, up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	log.Debug("API server stopped")
	return nil
}

// Handler exposes the underlying engine, used by tests to drive requests
// without a listener.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// UpdateAPIKeys swaps the client API key allow-list at runtime.
func (s *Server) UpdateAPIKeys(keys []string) {
	s.apiKeys.Swap(keys)
	log.Infof("client API keys updated (%d keys)", len(keys))
}

// UpdateManagementKey rotates the management bearer key at runtime. Routes
// are registered at startup, so this cannot enable management on a server
// started without a key.
func (s *Server) UpdateManagementKey(key string) {
	s.managementKey.Swap(key)
	log.Info("management key updated")
}

// corsMiddleware adds CORS headers to every response, allowing cross-origin
// requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
