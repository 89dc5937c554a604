// Package server exposes the generation service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/meshbridge/pkg/config"
	"github.com/pario-ai/meshbridge/pkg/metrics"
	"github.com/pario-ai/meshbridge/pkg/models"
)

// Generator is the subset of generate.Service the handlers use.
type Generator interface {
	GenerateOnce(ctx context.Context, req models.GenerationRequest) (models.GenResponse, error)
	GenerateBatch(ctx context.Context, req models.BatchRequest) (models.BatchResponse, error)
	CreateSession(ctx context.Context, req models.SessionCreate) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]models.SessionSummary, error)
	AppendToSession(ctx context.Context, req models.AppendRequest) (models.GenResponse, error)
	CacheStats(ctx context.Context) (models.CacheStats, error)
}

// HealthChecker reports whether the remote service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server is the meshbridge HTTP API.
type Server struct {
	cfg     *config.Config
	gen     Generator
	health  HealthChecker
	metrics *metrics.Collector
	logger  *zap.Logger
	mux     *http.ServeMux
	handler http.Handler
}

// New creates a Server wired with all dependencies. health and m may be nil.
func New(cfg *config.Config, gen Generator, health HealthChecker, m *metrics.Collector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		gen:     gen,
		health:  health,
		metrics: m,
		logger:  logger.With(zap.String("component", "server")),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /gen3d", s.handleGen3D)
	s.mux.HandleFunc("POST /gen3d_batch", s.handleGen3DBatch)
	s.mux.HandleFunc("POST /session/new", s.handleSessionNew)
	s.mux.HandleFunc("GET /session/{id}", s.handleSessionGet)
	s.mux.HandleFunc("GET /sessions", s.handleSessionList)
	s.mux.HandleFunc("POST /session/append", s.handleSessionAppend)
	s.mux.Handle("GET /metrics", m.Handler())

	prefix := strings.TrimRight("/"+strings.Trim(cfg.StaticPrefix, "/"), "/")
	s.mux.Handle("GET "+prefix+"/", http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.StaticDir()))))

	chain := []Middleware{
		Recovery(s.logger),
		RequestLogger(s.logger, m),
		CORS(cfg.Server.CORSOrigins),
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		chain = append(chain, RateLimiter(rl.RPS, rl.Burst))
	}
	s.handler = Chain(s.mux, chain...)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("meshbridge listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
