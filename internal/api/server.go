// Package api serves the admin endpoints of the offline pipeline and a
// store-and-forward relay to the upstream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"resilient/internal/client"
	"resilient/internal/config"
	"resilient/internal/logging"
	"resilient/internal/models"

	"github.com/rs/zerolog"
)

// Facade is the part of client.Client the server drives.
type Facade interface {
	Request(ctx context.Context, method models.Method, target string, body any, opts ...client.CallOption) (*client.Result, error)
	QueueStatus() models.QueueStatus
	QueuedOperations() []models.QueuedOperation
	ClearQueue(ctx context.Context)
	Sync(ctx context.Context) models.SyncResult
	Stats() client.Stats
}

// DeadLetterLister reads operations dropped after exhausting retries.
type DeadLetterLister interface {
	List(ctx context.Context, limit int64) ([]models.QueuedOperation, error)
}

type Option func(*HTTPServer)

func WithDeadLetters(l DeadLetterLister) Option {
	return func(s *HTTPServer) { s.deadLetters = l }
}

// WithReadiness sets the probe behind /readyz.
func WithReadiness(check func(ctx context.Context) error) Option {
	return func(s *HTTPServer) { s.ready = check }
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(s *HTTPServer) { s.logger = logging.Component(logger, "admin") }
}

type HTTPServer struct {
	cfg         config.AdminConfig
	facade      Facade
	deadLetters DeadLetterLister
	ready       func(ctx context.Context) error
	logger      zerolog.Logger
	auth        *HTTPAuth
	server      *http.Server
}

func NewHTTPServer(cfg config.AdminConfig, facade Facade, opts ...Option) *HTTPServer {
	srv := &HTTPServer{
		cfg:    cfg,
		facade: facade,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/readyz", srv.handleReadyz)
	mux.HandleFunc("/api/v1/queue", srv.handleQueue)
	mux.HandleFunc("/api/v1/queue/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/queue/export", srv.handleExport)
	mux.HandleFunc("/api/v1/stats", srv.handleStats)
	mux.HandleFunc("/api/v1/deadletters", srv.handleDeadLetters)
	mux.HandleFunc("/relay/", srv.handleRelay)

	handler := loggingMiddleware(srv.logger, corsMiddleware(srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
	return srv
}

// Handler exposes the full middleware chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("admin API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
