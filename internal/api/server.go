// Package api implements the HTTP/SSE/WebSocket surface: chat (blocking,
// streaming, and socket forms), mode management, database config, session
// management, and file upload/import endpoints, all backed by the
// process-wide collaborators the CLI also drives (internal/runtime,
// internal/session, internal/config, internal/events).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/frankawp/data-agent/internal/config"
	"github.com/frankawp/data-agent/internal/events"
	"github.com/frankawp/data-agent/internal/runtime"
	"github.com/frankawp/data-agent/internal/session"
	"github.com/frankawp/data-agent/internal/telemetry"
)

// Config holds server-level settings.
type Config struct {
	Addr         string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration // 0 for SSE/WebSocket responses
}

// DefaultConfig leaves WriteTimeout at zero so SSE/WebSocket connections are
// never cut off.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8000",
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	}
}

// Server is the HTTP surface over the orchestration layer's process-wide
// collaborators.
type Server struct {
	cfg Config

	router  *chi.Mux
	httpSrv *http.Server

	runtime  *runtime.Runtime
	sessions *session.Registry
	modes    *config.ModeStore
	agents   *config.AgentConfigLoader
	bus      *events.Bus

	db    DBProber
	chat  *chatService
	files FileConfig

	mirror *RedisMirror

	log telemetry.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger installs a structured logger.
func WithLogger(log telemetry.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithDBProber installs the database connection/table-inspection
// collaborator behind `/api/database/*`. Nil is valid: database endpoints
// report errkind.ConfigError "no database prober configured" rather than
// panicking.
func WithDBProber(p DBProber) Option {
	return func(s *Server) { s.db = p }
}

// WithFileConfig overrides the default upload allowlist/size cap.
func WithFileConfig(fc FileConfig) Option {
	return func(s *Server) { s.files = fc }
}

// WithRedisMirror installs a RedisMirror so SSE/WebSocket events are also
// published to Redis for cross-process subscribers. Nil (the default) keeps
// delivery in-process only.
func WithRedisMirror(m *RedisMirror) Option {
	return func(s *Server) { s.mirror = m }
}

// New constructs a Server wired to the process's shared collaborators.
func New(
	cfg Config,
	rt *runtime.Runtime,
	sessions *session.Registry,
	modes *config.ModeStore,
	agents *config.AgentConfigLoader,
	bus *events.Bus,
	opts ...Option,
) *Server {
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		runtime:  rt,
		sessions: sessions,
		modes:    modes,
		agents:   agents,
		bus:      bus,
		files:    DefaultFileConfig(),
		log:      telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.chat = newChatService(rt, sessions, bus, s.mirror)

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/", s.handleChat)
		r.Post("/reset", s.handleChatReset)
		r.Get("/sessions", s.handleChatSessions)
		r.Post("/stream", s.handleChatStream)
	})

	r.Route("/api/modes", func(r chi.Router) {
		r.Get("/", s.handleModesGetAll)
		r.Get("/{key}", s.handleModesGet)
		r.Post("/{key}", s.handleModesSet)
		r.Post("/{key}/toggle", s.handleModesToggle)
		r.Post("/reset", s.handleModesReset)
	})

	r.Route("/api/database", func(r chi.Router) {
		r.Get("/tables", s.handleDBListTables)
		r.Get("/tables/{name}", s.handleDBDescribeTable)
		r.Post("/config", s.handleDBSetConfig)
		r.Get("/config", s.handleDBGetConfig)
		r.Delete("/config", s.handleDBClearConfig)
		r.Post("/test", s.handleDBTest)
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", s.handleSessionsList)
		r.Get("/exports", s.handleExportsList)
		r.Get("/exports/{filename}/preview", s.handleExportPreview)
		r.Get("/exports/{filename}/download", s.handleExportDownload)
		r.Post("/new", s.handleSessionsNew)
	})

	r.Route("/api/files", func(r chi.Router) {
		r.Post("/upload", s.handleFilesUpload)
		r.Get("/imports", s.handleImportsList)
		r.Get("/imports/{filename}/preview", s.handleImportPreview)
		r.Delete("/imports/{filename}", s.handleImportDelete)
		r.Get("/imports/{filename}/download", s.handleImportDownload)
	})

	r.Get("/ws/chat", s.handleWebSocketChat)
}

// Start runs the HTTP server until it returns an error (always non-nil,
// matching net/http.Server.ListenAndServe's contract).
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.log.Info(context.Background(), "api: listening", "addr", s.cfg.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
