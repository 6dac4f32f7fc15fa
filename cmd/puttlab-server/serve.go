package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/srg/puttlab/internal/api"
	"github.com/srg/puttlab/internal/storage"
	"github.com/srg/puttlab/pkg/config"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the JSON API on server.addr, storing accounts, tokens and strokes in
the SQLite database at server.db_path. SIGINT or SIGTERM shuts the server down
gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().String("db", "", "SQLite database path (overrides server.db_path)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Server.DBPath = db
	}

	cfg.LogLevel = logrus.InfoLevel
	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		level, err := logrus.ParseLevel(s)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %s", s)
		}
		cfg.LogLevel = level
	}
	return cfg, cfg.NewLogger(), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}
	return serve(ctx, cfg, ln, logger)
}

// serve runs the API on ln until ctx is cancelled, then drains in-flight
// requests and closes the database.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, logger *logrus.Logger) error {
	store, err := storage.Open(ctx, cfg.Server.DBPath, logger)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}()

	srv := &http.Server{
		Handler:           api.NewServer(store, cfg.Server, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr": ln.Addr().String(),
			"db":   cfg.Server.DBPath,
		}).Info("API listening")
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
