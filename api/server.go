// Package api is the HTTP surface of the backend. It hosts the generation
// orchestrator, image lookups, queue statistics, health and Prometheus
// metrics. Handlers carry no business logic.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gen_backend/db"
	"gen_backend/generation"
	"gen_backend/logging"
	"gen_backend/metrics"
	"gen_backend/queue"
)

// Generator runs and cancels generation requests.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) generation.Response
	Cancel(requestID string) bool
}

// ImageReader reads persisted images.
type ImageReader interface {
	GetImageByID(ctx context.Context, id int64) (*db.Image, error)
	ListRecent(ctx context.Context, limit int, publicOnly bool) ([]*db.Image, error)
}

// QueueStats reports queue counters.
type QueueStats interface {
	Stats() queue.Stats
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the components the handlers call. Operations and
// Database may be nil.
type Dependencies struct {
	Generator  Generator
	Images     ImageReader
	Queue      QueueStats
	Recorder   *metrics.Recorder
	Database   Pinger
	Operations OperationWrapper
}

// ServerConfig configures the Server.
type ServerConfig struct {
	Host string
	Port int

	ReadTimeout time.Duration
	// WriteTimeout must exceed the longest generation the queue allows,
	// since POST /api/generate blocks until the request settles.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
	Version      string

	// GenerateRateLimit is the per-client request rate for POST
	// /api/generate. Zero disables limiting.
	GenerateRateLimit float64
	GenerateBurst     int

	// UploadsDir is served read-only under UploadsPrefix when both are set,
	// so locally stored image URLs resolve.
	UploadsDir    string
	UploadsPrefix string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 330 * time.Second,
		IdleTimeout:  120 * time.Second,
		MaxBodyBytes: 1 << 20,
		Version:      "0.0.0",
	}
}

// Server is the HTTP server organism.
type Server struct {
	cfg        ServerConfig
	deps       Dependencies
	logger     *logging.Logger
	router     chi.Router
	httpServer *http.Server
	limiter    *clientLimiter
}

// NewServer builds the router. Generator, Images, Queue and Recorder are
// required.
func NewServer(cfg ServerConfig, deps Dependencies, logger *logging.Logger) (*Server, error) {
	if deps.Generator == nil || deps.Images == nil || deps.Queue == nil || deps.Recorder == nil {
		return nil, errors.New("api: generator, images, queue and recorder are required")
	}
	def := DefaultServerConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{cfg: cfg, deps: deps, logger: logger.Named("api")}
	if cfg.GenerateRateLimit > 0 {
		s.limiter = newClientLimiter(cfg.GenerateRateLimit, cfg.GenerateBurst)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger, s.deps.Recorder, "/health", "/metrics"))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Recorder.Handler())

	if s.cfg.UploadsDir != "" && strings.HasPrefix(s.cfg.UploadsPrefix, "/") {
		prefix := strings.TrimSuffix(s.cfg.UploadsPrefix, "/")
		files := http.StripPrefix(prefix, http.FileServer(http.Dir(s.cfg.UploadsDir)))
		r.Method(http.MethodGet, prefix+"/*", files)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(tracked(s.deps.Operations))
		r.With(rateLimited(s.limiter)).Post("/generate", s.handleGenerate)
		r.Delete("/requests/{id}", s.handleCancel)
		r.Get("/images", s.handleListImages)
		r.Get("/images/{id}", s.handleGetImage)
		r.Get("/queue/stats", s.handleQueueStats)
	})
	return r
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active ones until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}
