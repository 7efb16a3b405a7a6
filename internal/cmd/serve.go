package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/piprov/internal/history"
	"github.com/yoanbernabeu/piprov/internal/provision"
	"github.com/yoanbernabeu/piprov/internal/server"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose operations over a websocket API",
	Long: `Starts an HTTP server streaming operation output over a websocket.

Endpoints:
  GET /health            Liveness check
  GET /api/operations    Operation catalog
  GET /api/history       Recent runs (?target=&limit=)
  GET /ws                Run operations and receive their output

Clients send the target credentials with each request; they are never stored.
Bind to a loopback or otherwise trusted address.`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := loadApp()
	if err != nil {
		return err
	}

	store, err := app.openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	hub := server.NewHub()
	orch := app.orchestrator(
		hub,
		provision.LogSink{Logger: logger},
		history.NewSink(store, logger),
	)

	srv := server.New(orch, hub,
		server.WithHistory(store),
		server.WithLogger(logger),
		server.WithAllowedOrigins(app.Config.AllowedOrigins...),
	)

	addr := serveAddr
	if addr == "" {
		addr = app.Config.ListenAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go cleanupLoop(ctx, store, app.Config.HistoryRetentionDays)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited")
	return nil
}

// cleanupLoop prunes old runs at start and then daily until ctx is done
func cleanupLoop(ctx context.Context, store *history.Store, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if removed, err := store.Cleanup(retentionDays); err != nil {
			logger.Warn().Err(err).Msg("history cleanup failed")
		} else if removed > 0 {
			logger.Info().Int64("removed", removed).Msg("history cleaned up")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
