package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/labwire/orderdesk/internal/cli"
	httpAdapter "github.com/labwire/orderdesk/pkg/adapters/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the order assistant as an HTTP service: /chat, session and order
lookups, cache diagnostics, /metrics and the OpenAPI document at /swagger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		logger := app.Logger

		addr := app.Config.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}

		handler, err := httpAdapter.NewHandler(app.Assistant,
			httpAdapter.WithLogger(logger),
			httpAdapter.WithGatherer(app.Registry),
		)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		// Idle session sweeper
		go app.Assistant.Run(ctx, app.Config.Sessions.SweepInterval, app.Config.Sessions.IdleTimeout)

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("http.listening", "address", addr, "store", app.Config.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err

		case <-ctx.Done():
			logger.Info("http.shutdown", "signal", ctx.Signal())

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http.shutdown_incomplete", "err", err)
				_ = srv.Close()
			}
			if err := app.Assistant.Flush(shutdownCtx); err != nil {
				logger.Warn("http.flush_incomplete", "err", err)
			}
			logger.Info("http.stopped")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", ":8080", "Address to listen on (overrides ORDERDESK_ADDR)")
}
