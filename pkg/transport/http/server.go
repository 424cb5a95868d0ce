package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/transport"
)

// Server wraps an http.Server with the transport adapter and manages
// the full lifecycle including startup and graceful shutdown.
type Server struct {
	httpServer     *http.Server
	adapter        *Adapter
	config         ServerConfig
	logger         *slog.Logger
	httpMiddleware []HTTPMiddleware
}

// HTTPMiddleware wraps the adapter's handler at the HTTP level. Unlike
// transport.Middleware, it sees the raw request and can short-circuit
// before any extraction work starts (authentication, metrics).
type HTTPMiddleware func(http.Handler) http.Handler

// ServerConfig holds configuration for the transport server.
type ServerConfig struct {
	Addr             string
	MaxBodySize      int64
	MaxExtractions   int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	VerifyOnRegister bool
	Sandbox          string
	Version          string
	Logger           *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             ":8080",
		MaxBodySize:      10 << 20, // 10 MB
		MaxExtractions:   4,
		ReadTimeout:      30 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		VerifyOnRegister: true,
		Logger:           slog.Default(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithMaxBodySize sets the maximum request body size.
func WithMaxBodySize(n int64) ServerOption {
	return func(s *Server) { s.config.MaxBodySize = n }
}

// WithMaxExtractions caps the number of concurrent extractions; requests
// beyond the cap are rejected with 429. Non-positive means unbounded.
func WithMaxExtractions(n int) ServerOption {
	return func(s *Server) { s.config.MaxExtractions = n }
}

// WithReadTimeout sets the read deadline for incoming requests.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ReadTimeout = d }
}

// WithWriteTimeout sets the write deadline for responses. Leave zero when
// extractions may run longer than the deadline.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.WriteTimeout = d }
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithVerifyOnRegister controls whether script registration runs the
// acceptance battery by default.
func WithVerifyOnRegister(v bool) ServerOption {
	return func(s *Server) { s.config.VerifyOnRegister = v }
}

// WithSandboxName sets the isolation backend name reported on /healthz.
func WithSandboxName(name string) ServerOption {
	return func(s *Server) { s.config.Sandbox = name }
}

// WithVersion sets the version string reported on /healthz.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.config.Version = v }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// WithHTTPMiddleware wraps the handler with HTTP-level middleware.
// Middleware is applied so the first listed is the outermost.
func WithHTTPMiddleware(mw ...HTTPMiddleware) ServerOption {
	return func(s *Server) { s.httpMiddleware = append(s.httpMiddleware, mw...) }
}

// NewServer creates a new transport server with the given extractor and
// options. The Verifier and ScriptStore are optional (pass nil to run
// without an isolation backend or registry). Default middleware
// (recovery, request ID, logging) is applied automatically.
func NewServer(extractor transport.Extractor, verifier transport.Verifier, store transport.ScriptStore, opts ...ServerOption) *Server {
	s := &Server{
		config: DefaultServerConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	adapterCfg := Config{
		Addr:             s.config.Addr,
		MaxBodySize:      s.config.MaxBodySize,
		MaxExtractions:   s.config.MaxExtractions,
		ShutdownTimeout:  int(s.config.ShutdownTimeout.Seconds()),
		VerifyOnRegister: s.config.VerifyOnRegister,
		Sandbox:          s.config.Sandbox,
		Version:          s.config.Version,
	}

	defaultMW := []transport.Middleware{
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(s.logger),
	}

	s.adapter = NewAdapter(extractor, verifier, store, adapterCfg, defaultMW...)

	handler := s.adapter.Handler()
	for i := len(s.httpMiddleware) - 1; i >= 0; i-- {
		handler = s.httpMiddleware[i](handler)
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s
}

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGINT or SIGTERM) is received. It then gracefully shuts down,
// waiting for in-flight requests to complete within the configured timeout.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.listenAndServeWithContext(ctx)
}

func (s *Server) listenAndServeWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server starting", slog.String("addr", s.config.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	return s.shutdown()
}

// ServeOn starts the server on the given listener. Used for testing.
func (s *Server) ServeOn(ln net.Listener) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
