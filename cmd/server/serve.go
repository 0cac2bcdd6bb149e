package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nxtg-forge/termbridge/internal/config"
	"github.com/nxtg-forge/termbridge/internal/logger"
	"github.com/nxtg-forge/termbridge/internal/pty"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the terminal bridge server",
	Long: `Start the terminal bridge server.

Configuration comes from TERMBRIDGE_* environment variables (unprefixed names
work too); flags override the environment.`,
	Example: `  TERMBRIDGE_INTERNAL_TOKEN=secret termbridge serve --port 8080
  termbridge serve --dev --grace 30s`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("port", "", "port to listen on (overrides PORT)")
	cmd.Flags().Bool("dev", false, "development mode: console logs, any origin if none configured")
	cmd.Flags().Duration("grace", 0, "how long detached sessions are kept (overrides GRACE_PERIOD)")
	cmd.Flags().String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
}

// applyFlags overrides settings with the flags the user set.
func applyFlags(cmd *cobra.Command, s *config.Settings) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		s.Port, _ = flags.GetString("port")
	}
	if flags.Changed("dev") {
		s.Dev, _ = flags.GetBool("dev")
	}
	if flags.Changed("grace") {
		s.GracePeriod, _ = flags.GetDuration("grace")
	}
	if flags.Changed("log-level") {
		s.LogLevel, _ = flags.GetString("log-level")
	}
	if s.Dev && len(s.AllowedOrigins) == 0 {
		s.AllowedOrigins = []string{"*"}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := config.Read()
	if err != nil {
		return err
	}
	applyFlags(cmd, &settings)
	if err := settings.Validate(); err != nil {
		return err
	}

	logger.Configure(logger.ParseLevel(settings.LogLevel), settings.Dev)
	log := logger.For("server")

	if settings.AuthDisabled {
		log.Warn().Msg("authentication is disabled")
	}
	if len(settings.AllowedOrigins) == 0 {
		log.Warn().Msg("ALLOWED_ORIGINS is empty, all WebSocket connections will be refused")
	}

	a, err := newApp(settings, pty.HostSpawner{}, logger.Logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", settings.Port).
			Dur("grace", settings.GracePeriod).
			Strs("origins", settings.AllowedOrigins).
			Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		a.shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server; the
	// session shutdown closes them with 1001.
	httpErr := srv.Shutdown(shutdownCtx)
	appErr := a.shutdown(shutdownCtx)
	if err := errors.Join(httpErr, appErr); err != nil {
		log.Error().Err(err).Msg("unclean shutdown")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
