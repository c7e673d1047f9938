package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resilient/internal/api"
	"resilient/internal/client"
	"resilient/internal/config"
	"resilient/internal/connectivity"
	"resilient/internal/logging"
	"resilient/internal/metrics"
	"resilient/internal/storage"
	"resilient/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay, the admin API and the connectivity prober",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, &logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	rdb := initRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		defer func() { _ = storage.Close(rdb) }()
	}

	store, err := buildStore(cfg.Storage, cfg.Redis, rdb, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	policy, err := retryPolicy(cfg.Retry)
	if err != nil {
		return err
	}

	var dead *storage.RedisDeadLetters
	var sink worker.DeadLetterSink
	if rdb != nil {
		dead = storage.NewRedisDeadLetters(rdb, cfg.Redis.DeadLetterKey)
		sink = dead
	}

	prober := connectivity.NewProber(
		cfg.Connectivity.ProbeURL,
		cfg.Connectivity.Interval.Std(),
		cfg.Connectivity.Timeout.Std(),
		cfg.Connectivity.AssumeOnline,
		logger,
	)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	c, err := client.New(client.Options{
		Transport:  buildTransport(ctx, cfg.Upstream),
		Store:      store.store,
		Source:     prober,
		Queue:      queueConfig(cfg.Queue),
		Retry:      policy,
		Sync:       syncConfig(cfg.Queue, sink),
		Classifier: classifier(cfg.Queue),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init client: %w", err)
	}
	defer func() { _ = c.Close() }()

	go prober.Run(ctx)

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	var admin *api.HTTPServer
	if cfg.Admin.Enabled {
		opts := []api.Option{api.WithLogger(logger)}
		if dead != nil {
			opts = append(opts, api.WithDeadLetters(dead))
		}
		if store.ping != nil {
			opts = append(opts, api.WithReadiness(store.ping))
		}
		admin = api.NewHTTPServer(cfg.Admin, c, opts...)
		go func() {
			if err := admin.Start(); err != nil {
				logger.Error().Err(err).Msg("admin server stopped")
			}
		}()
	}

	logger.Info().
		Str("upstream", cfg.Upstream.BaseURL).
		Str("storage", cfg.Storage.Backend).
		Bool("admin", cfg.Admin.Enabled).
		Msg("resilientd started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("admin shutdown")
		}
	}

	logger.Info().Int("queued", c.QueueStatus().Length).Msg("resilientd stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
