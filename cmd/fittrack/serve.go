// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fittrack/fittrack/internal/api"
	"github.com/fittrack/fittrack/internal/artifact"
	"github.com/fittrack/fittrack/internal/auth"
	authpg "github.com/fittrack/fittrack/internal/auth/postgres"
	"github.com/fittrack/fittrack/internal/config"
	"github.com/fittrack/fittrack/internal/logging"
	"github.com/fittrack/fittrack/internal/memstore"
	"github.com/fittrack/fittrack/internal/observability"
	"github.com/fittrack/fittrack/internal/resource"
	resourcepg "github.com/fittrack/fittrack/internal/resource/postgres"
	"github.com/fittrack/fittrack/internal/store"
)

const readHeaderTimeout = 10 * time.Second

// identityStore is what every backend provides for identities.
type identityStore interface {
	auth.IdentityRepository
	resource.Owners
}

// backend is the persistence the services run on.
type backend struct {
	identities identityStore
	resources  resource.Repository
	tx         resource.Transactor
	ready      observability.ReadinessChecker
	close      func()
}

// serveDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type serveDeps struct {
	// OpenBackend connects to the configured store.
	// Default: openBackend
	OpenBackend func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error)

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer

	// Ready is called once the API listener is bound.
	Ready func(apiAddr net.Addr)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API and, unless metrics-addr is empty, the metrics and
health server. Without database-url the data lives in memory only.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), configPath(cmd))
			if err != nil {
				return oops.With("operation", "load config").Wrap(err)
			}
			return runServe(cmd.Context(), cfg, cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// openBackend picks PostgreSQL when a database URL is configured and the
// in-memory store otherwise.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database-url configured, using the in-memory store; data is lost on exit")
		mem := memstore.New()
		return &backend{
			identities: mem.Identities(),
			resources:  mem.Resources(),
			tx:         mem,
			close:      func() {},
		}, nil
	}

	pool, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &backend{
		identities: authpg.NewIdentityRepository(pool),
		resources:  resourcepg.NewResourceRepository(pool),
		tx:         store.NewTransactor(pool),
		ready:      pool.Ping,
		close:      pool.Close,
	}, nil
}

// runServe wires the services and blocks until ctx ends, a signal arrives
// or a server fails.
func runServe(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *serveDeps) error {
	if deps == nil {
		deps = &serveDeps{}
	}
	if deps.OpenBackend == nil {
		deps.OpenBackend = openBackend
	}
	if deps.LogWriter == nil {
		deps.LogWriter = os.Stderr
	}

	logger, err := logging.New(logging.Options{
		Service: "fittrack",
		Version: version,
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		Writer:  deps.LogWriter,
	})
	if err != nil {
		return oops.With("operation", "set up logging").Wrap(err)
	}
	slog.SetDefault(logger)
	logger.Info("starting fittrack", "version", version, "config", cfg)

	shutdownTracing := observability.InstallTracing()
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("error stopping tracer provider", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := observability.NewRegistry()
	metrics := observability.NewMetrics(registry)

	be, err := deps.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "open store").Wrap(err)
	}
	defer be.close()

	files, err := artifact.NewLocalStore(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		return err
	}

	authSvc, err := newAuthService(cfg, be, logger, metrics)
	if err != nil {
		return err
	}

	cleaner, err := resource.NewCleaner(resource.CleanerConfig{
		Artifacts: files,
		Timeout:   cfg.CleanupTimeout,
		Logger:    logger,
		Recorder:  metrics,
	})
	if err != nil {
		return err
	}
	resources, err := resource.NewService(resource.ServiceConfig{
		Owners:     be.identities,
		Resources:  be.resources,
		Transactor: be.tx,
		Cleaner:    cleaner,
		MaxRetries: cfg.TxMaxRetries,
		Logger:     logger,
		Recorder:   metrics,
	})
	if err != nil {
		return err
	}

	apiServer, err := api.NewServer(api.Config{
		UploadDir:      files.Dir(),
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
		LoginRate:      cfg.LoginRate,
	}, api.Deps{
		Auth:      authSvc,
		Resources: resources,
		Artifacts: files,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTPAddr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	httpErrs := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrs <- serveErr
		}
		close(httpErrs)
	}()
	logger.Info("api listening", "addr", listener.Addr().String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, registry, be.ready, logger)
		obsErrs, err := obsServer.Start()
		if err != nil {
			shutdownHTTP(httpServer, cfg.ShutdownTimeout, logger)
			return oops.With("operation", "start metrics server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrs, "observability", logger)
		logger.Info("metrics server listening", "addr", obsServer.Addr())
	}

	if cmd != nil {
		cmd.Println("FitTrack API started on", listener.Addr().String())
	}
	if deps.Ready != nil {
		deps.Ready(listener.Addr())
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-httpErrs:
		if ok && err != nil {
			serveErr = oops.Code("SERVE_FAILED").Wrap(err)
			logger.Error("api server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if err := cleaner.Wait(shutdownCtx); err != nil {
		logger.Warn("pending artifact cleanups abandoned", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping metrics server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

func newAuthService(cfg *config.Config, be *backend, logger *slog.Logger, rec auth.Recorder) (*auth.Service, error) {
	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenService([]byte(cfg.JWTSecret), auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		return nil, err
	}
	return auth.NewAuthService(auth.ServiceConfig{
		Identities: be.identities,
		Hasher:     hasher,
		Tokens:     tokens,
		Logger:     logger,
		Recorder:   rec,
	})
}

func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a background server fails. It exits
// when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errs <-chan error, name string, logger *slog.Logger) {
	select {
	case err, ok := <-errs:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", name, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
