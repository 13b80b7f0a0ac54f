package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/Suhaibinator/SDispatch/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the shop server",
	Long:  `Starts the HTTP server. The log level follows changes to the config file while the server runs.`,
	RunE:  runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "address to listen on (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	level, err := cfg.Log.ParseLevel()
	if err != nil {
		return err
	}
	atomicLevel := zap.NewAtomicLevelAt(level)
	logger, err := cfg.Log.Build(atomicLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
		l, err := next.Log.ParseLevel()
		if err != nil || l == atomicLevel.Level() {
			return
		}
		logger.Info("Log level changed", zap.Stringer("from", atomicLevel.Level()), zap.Stringer("to", l))
		atomicLevel.SetLevel(l)
	}); err != nil {
		logger.Warn("Config hot reload disabled", zap.Error(err))
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	return serve(ctx, cfg, a, logger)
}

// serve runs the HTTP server until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, cfg *config.Config, a *app, logger *zap.Logger) error {
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.Int("routes", a.table.Len()),
			zap.Stringer("match_mode", a.table.Mode()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return a.shutdown(shutdownCtx, httpServer)
}

// shutdown closes websocket clients, which the server counts as in-flight requests,
// then stops taking dispatched requests and finally closes the HTTP server.
func (a *app) shutdown(ctx context.Context, httpServer *http.Server) error {
	if a.ws != nil {
		a.ws.Close()
	}
	err := a.server.Shutdown(ctx)
	return multierr.Append(err, httpServer.Shutdown(ctx))
}
