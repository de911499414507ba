package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"corporate-actions/internal/api"
	"corporate-actions/internal/metrics"
	"corporate-actions/internal/processor"
	"corporate-actions/internal/service"
	"corporate-actions/internal/store"
	"corporate-actions/pkg/utils"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and background processor",
		Long: `Start the corporate actions service: the HTTP API for creating and
querying events, and the background processor that advances pending
events through their lifecycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			eventStore, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer eventStore.Close()

			// The database may be briefly locked by another process at
			// startup; retry the first ping with backoff.
			pingCtx, pingCancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer pingCancel()
			if err := utils.Retry(pingCtx, utils.DefaultRetryConfig(), func() error {
				return eventStore.Ping(pingCtx)
			}); err != nil {
				return err
			}
			logger.Info().Str("path", cfg.Database.Path).Msg("Event store ready")

			svc := service.NewEventService(eventStore, logger)
			aggregator := metrics.NewAggregator(eventStore)

			proc := processor.New(svc, eventStore, processor.Config{
				FailureRate:     cfg.Processor.FailureRate,
				ProcessingDelay: cfg.Processor.ProcessingDelay,
				PollInterval:    cfg.Processor.PollInterval,
				BatchSize:       cfg.Processor.BatchSize,
				MaxRetries:      cfg.Processor.MaxRetries,
			}, nil, logger)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			proc.Start(ctx)

			handler := api.New(svc, aggregator, eventStore, logger)
			srv := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      handler,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  cfg.Server.IdleTimeout,
			}

			errC := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.Server.Addr).Msg("Server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errC <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errC:
				proc.Stop()
				return err
			case sig := <-quit:
				logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			}

			shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutCancel()
			if err := srv.Shutdown(shutCtx); err != nil {
				logger.Warn().Err(err).Msg("Server shutdown incomplete")
			}
			proc.Stop()
			logger.Info().Msg("Goodbye")
			return nil
		},
	}

	return cmd
}
