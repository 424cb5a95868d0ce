// Command server runs the cepheid feature-extraction service.
//
// Configuration is loaded from a YAML file (-config flag, CEPHEID_CONFIG,
// or the default search path) with CEPHEID_* environment overrides; see
// pkg/config for the full schema. The server exposes the extraction API
// on /v1, Prometheus metrics on /metrics, and liveness on /healthz.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/cepheid-ml/cepheid/pkg/auth"
	"github.com/cepheid-ml/cepheid/pkg/auth/apikey"
	"github.com/cepheid-ml/cepheid/pkg/auth/jwt"
	"github.com/cepheid-ml/cepheid/pkg/auth/noop"
	"github.com/cepheid-ml/cepheid/pkg/config"
	"github.com/cepheid-ml/cepheid/pkg/debug"
	"github.com/cepheid-ml/cepheid/pkg/engine"
	"github.com/cepheid-ml/cepheid/pkg/observability"
	"github.com/cepheid-ml/cepheid/pkg/registry/memory"
	"github.com/cepheid-ml/cepheid/pkg/registry/postgres"
	"github.com/cepheid-ml/cepheid/pkg/sandbox"
	"github.com/cepheid-ml/cepheid/pkg/sandbox/docker"
	"github.com/cepheid-ml/cepheid/pkg/sandbox/remote"
	"github.com/cepheid-ml/cepheid/pkg/sandbox/remote/kubernetes"
	"github.com/cepheid-ml/cepheid/pkg/transport"
	transporthttp "github.com/cepheid-ml/cepheid/pkg/transport/http"
	"github.com/cepheid-ml/cepheid/pkg/verify"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (default: search standard locations)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// debug.Init installs its own default handler, so the configured
	// logger must go in after it.
	debug.Init(cfg.Log.Debug, cfg.Log.Level)
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	if cats := debug.Categories(); len(cats) > 0 {
		logger.Info("debug categories enabled", "categories", cats)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Script registry.
	store, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating registry: %w", err)
	}
	defer store.Close()

	// Isolation backend.
	iso, sandboxName, err := buildIsolator(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating sandbox backend: %w", err)
	}

	// Extraction engine.
	eng := engine.New(iso, engine.Options{
		Python:  cfg.Sandbox.Python,
		Timeout: cfg.Sandbox.Timeout,
		Logger:  logger,
	})

	// Acceptance battery.
	var verifier transport.Verifier
	if cfg.Verify.Enabled {
		verifier = verify.NewVerifier(iso, logger)
	} else {
		logger.Info("script verification disabled")
	}

	// Authentication.
	chain, limiter, err := buildAuth(cfg.Auth)
	if err != nil {
		return fmt.Errorf("creating auth chain: %w", err)
	}

	// HTTP adapter with the default extraction middleware.
	adapter := transporthttp.NewAdapter(eng, verifier, store, transporthttp.Config{
		Addr:             fmt.Sprintf(":%d", cfg.Server.Port),
		MaxBodySize:      cfg.Server.MaxBodySize,
		MaxExtractions:   cfg.Server.MaxExtractions,
		ShutdownTimeout:  int(cfg.Server.ShutdownTimeout.Seconds()),
		VerifyOnRegister: cfg.Verify.Enabled,
		Sandbox:          sandboxName,
		Version:          version,
	},
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(logger),
	)

	mux := http.NewServeMux()
	mux.Handle("/", adapter.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())

	// Auth inside, metrics outside, so rejected requests are counted too.
	var handler http.Handler = mux
	handler = auth.Middleware(chain, limiter, auth.DefaultBypassEndpoints)(handler)
	handler = observability.MetricsMiddleware(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"port", cfg.Server.Port,
			"registry", cfg.Registry.Type,
			"sandbox", sandboxName,
			"auth", cfg.Auth.Type,
			"version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: debug.ParseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildRegistry creates the script store named by the config.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transport.ScriptStore, error) {
	switch cfg.Registry.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Registry.Postgres.DSN,
			MaxConns:       cfg.Registry.Postgres.MaxConns,
			MigrateOnStart: cfg.Registry.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("registry enabled", "type", "postgres", "migrate_on_start", cfg.Registry.Postgres.MigrateOnStart)
		return store, nil
	default:
		logger.Info("registry enabled", "type", "memory", "max_size", cfg.Registry.MaxSize)
		return memory.New(cfg.Registry.MaxSize), nil
	}
}

// buildIsolator creates the isolation backend named by the config and
// returns it with the backend name reported on /healthz. Mode "auto"
// tries docker and degrades to no isolation; the engine then warns on
// every unsandboxed run.
func buildIsolator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Isolator, string, error) {
	timeout := cfg.Sandbox.Timeout

	switch cfg.Sandbox.Mode {
	case "none":
		logger.Warn("isolation disabled, untrusted scripts will run on the host")
		return nil, "none", nil

	case "docker":
		backend, err := docker.New(docker.Options{
			Image:   cfg.Sandbox.Image,
			BaseDir: cfg.Sandbox.BaseDir,
			Logger:  logger,
		})
		if err != nil {
			return nil, "", err
		}
		return sandbox.NewOrchestrator(backend, logger, timeout), "docker", nil

	case "remote":
		backend := remote.NewBackend(&remote.StaticAcquirer{URL: cfg.Sandbox.Remote.URL})
		return sandbox.NewOrchestrator(backend, logger, timeout), "remote", nil

	case "kubernetes":
		scheme, err := kubernetes.NewScheme()
		if err != nil {
			return nil, "", err
		}
		restCfg, err := ctrlconfig.GetConfig()
		if err != nil {
			return nil, "", fmt.Errorf("kubernetes config: %w", err)
		}
		c, err := client.New(restCfg, client.Options{Scheme: scheme})
		if err != nil {
			return nil, "", fmt.Errorf("kubernetes client: %w", err)
		}
		acquirer := kubernetes.NewClaimAcquirer(c,
			cfg.Sandbox.Kubernetes.Template,
			cfg.Sandbox.Kubernetes.Namespace,
			cfg.Sandbox.Kubernetes.AcquireTimeout)
		backend := remote.NewBackend(acquirer)
		return sandbox.NewOrchestrator(backend, logger, timeout), "kubernetes", nil

	default: // auto
		backend, err := docker.New(docker.Options{
			Image:   cfg.Sandbox.Image,
			BaseDir: cfg.Sandbox.BaseDir,
			Logger:  logger,
		})
		if err != nil {
			logger.Warn("docker unavailable, isolation disabled", "error", err)
			return nil, "none", nil
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if !backend.Available(probeCtx) {
			logger.Warn("docker daemon or sandbox image not reachable, isolation disabled",
				"image", cfg.Sandbox.Image)
			return nil, "none", nil
		}
		return sandbox.NewOrchestrator(backend, logger, timeout), "docker", nil
	}
}

// buildAuth assembles the authenticator chain and rate limiter from the
// auth section.
func buildAuth(cfg config.AuthConfig) (*auth.AuthChain, auth.RateLimiter, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}

	switch cfg.Type {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for i, k := range cfg.APIKeys {
			if k.Key == "" {
				return nil, nil, fmt.Errorf("auth.api_keys[%d]: key is empty", i)
			}
			identity := auth.Identity{
				Subject:     k.Subject,
				ServiceTier: k.ServiceTier,
			}
			if identity.ServiceTier == "" {
				identity.ServiceTier = "default"
			}
			if k.ProjectID != "" {
				identity.Metadata = map[string]string{"project_id": k.ProjectID}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: identity})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(entries)}

	case "jwt":
		chain.Authenticators = []auth.Authenticator{jwt.New(jwt.Config{
			Issuer:       cfg.JWT.Issuer,
			Audience:     cfg.JWT.Audience,
			JWKSURL:      cfg.JWT.JWKSURL,
			UserClaim:    cfg.JWT.UserClaim,
			ProjectClaim: cfg.JWT.ProjectClaim,
		})}

	default: // none
		chain.Authenticators = []auth.Authenticator{&noop.Authenticator{}}
	}

	var limiter auth.RateLimiter
	if cfg.DefaultRPM > 0 {
		limiter = auth.NewInProcessLimiter(nil, cfg.DefaultRPM)
	}

	return chain, limiter, nil
}
