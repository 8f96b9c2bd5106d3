package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"vclip/server/internal/api"
	"vclip/server/internal/auth"
	"vclip/server/internal/events"
	"vclip/server/internal/job"
	"vclip/server/internal/model"
	"vclip/server/internal/store"
	"vclip/server/internal/telemetry"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the clipping pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger()

			if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
				return fmt.Errorf("ensure data dir: %w", err)
			}
			lock := flock.New(cfg.LockPath())
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("lock data dir: %w", err)
			}
			if !ok {
				return fmt.Errorf("data dir %s is in use by another vclip server", cfg.Storage.DataDir)
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					logger.Warn("unlock_failed", "error", err)
				}
			}()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			persister, closePersister, err := openPersister(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closePersister(); err != nil {
					logger.Warn("persister_close_failed", "error", err)
				}
			}()

			st := store.NewMemoryStore(persister, logger)
			if err := st.Restore(runCtx); err != nil {
				logger.Error("restore_failed", "error", err)
			}

			meter, metricsHandler, shutdownMetrics, err := telemetry.InitMetrics()
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownMetrics(context.Background()); err != nil {
					logger.Warn("metrics_shutdown_failed", "error", err)
				}
			}()
			metrics, err := telemetry.NewMetrics(meter)
			if err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}
			if err := metrics.ObserveJobStatus(func() map[string]int {
				out := map[string]int{}
				for status, n := range st.CountByStatus() {
					out[string(status)] = n
				}
				return out
			}); err != nil {
				logger.Warn("job_gauge_failed", "error", err)
			}

			hub := events.NewHub()
			jobSvc := job.NewService(st, hub, buildProviders(cfg, logger), metrics, logger, job.Options{
				ClipsDir:   cfg.ClipsDir(),
				Thumbnails: cfg.Pipeline.Thumbnails,
			})
			authSvc := auth.NewService(cfg.Auth.DownloadSecret, cfg.DownloadTTL(), cfg.Auth.APIKeyHash)
			srv := api.NewServer(authSvc, st, jobSvc, hub, logger, api.Options{
				Metrics:        metricsHandler,
				RateLimitRPS:   cfg.Server.RateLimitRPS,
				RateLimitBurst: cfg.Server.RateLimitBurst,
			})

			httpSrv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("server_start",
					"addr", cfg.Server.Addr,
					"data_dir", cfg.Storage.DataDir,
					"persistence", cfg.Storage.Persistence,
					"mock_providers", cfg.Pipeline.MockProviders,
					"api_key_required", authSvc.APIKeyRequired(),
				)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-runCtx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}

			logger.Info("server_stopping")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http_shutdown_failed", "error", err)
			}
			if err := jobSvc.Wait(shutdownCtx); err != nil {
				logger.Warn("jobs_still_running", "count", st.CountByStatus()[model.JobProcessing])
			}
			if err := st.Persist(context.Background()); err != nil {
				logger.Error("persist_failed", "error", err)
				return err
			}
			logger.Info("server_stopped")
			return nil
		},
	}
}
