package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/api"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/auth"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/config"
	"github.com/Isomkevin/agentpay-platform-MNEE/pkg/observability"
)

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Run the payment ledger HTTP service",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = ":" + cfg.Port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			return serve(ctx, cfg, ln, observability.NewLogger(cmd.OutOrStdout(), cfg.LogLevel))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default \":$PORT\")")
	return cmd
}

// buildServer wires the application and its HTTP surface.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, obs *observability.Provider) (*app, http.Handler, func(), error) {
	if cfg.Secret == "" {
		return nil, nil, nil, errors.New("AGENTPAY_SECRET is required to serve")
	}
	signer, err := auth.NewSigner(cfg.Secret)
	if err != nil {
		return nil, nil, nil, err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := a.authorizeEngines(ctx); err != nil {
		_ = a.Close()
		return nil, nil, nil, err
	}

	cleanup := func() { _ = a.Close() }
	var limiter api.Limiter = api.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if cfg.RedisAddr != "" {
		rl := api.NewRedisLimiter(cfg.RedisAddr, cfg.RateLimitRPS, cfg.RateLimitBurst)
		if err := rl.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "redis unavailable, limiter will fail open until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
		limiter = rl
		cleanup = func() { _ = rl.Close(); _ = a.Close() }
	}

	srv, err := api.NewServer(api.Deps{
		Ledger:       a.ledger,
		Rules:        a.rules,
		Streams:      a.streams,
		Escrow:       a.escrow,
		Journal:      a.journal,
		Signer:       signer,
		Obs:          obs,
		Logger:       logger,
		Limiter:      limiter,
		RateLimitRPS: cfg.RateLimitRPS,
		Idempotency:  api.NewIdempotencyStore(24 * time.Hour),
		DevToken:     a.token,
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return a, srv.Handler(), cleanup, nil
}

func serve(ctx context.Context, cfg *config.Config, ln net.Listener, logger *slog.Logger) error {
	slog.SetDefault(logger)

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = Version
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.Insecure = true
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	_, handler, cleanup, err := buildServer(ctx, cfg, logger, obs)
	if err != nil {
		return err
	}
	defer cleanup()

	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "agentpay listening", "addr", ln.Addr().String(), "store", cfg.StoreDriver, "version", Version)
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
