package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/opsd/internal/config"
	"github.com/roach88/opsd/internal/delivery"
	"github.com/roach88/opsd/internal/engine"
	"github.com/roach88/opsd/internal/store"
)

// app is the wired runtime shared by commands that touch the database.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	engine *engine.Engine
}

// loadConfig resolves the effective configuration: file (or defaults),
// then environment, then flags.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.LookupEnv)
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to w (stderr) so
// JSON output on stdout stays parseable.
func newLogger(cfg config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openApp loads config, opens the store and builds an engine with every
// delivery executor registered. Call Close when done.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open database", err)
	}

	reg := engine.NewRegistry()
	delivery.Register(reg, cfg.Delivery(), logger)

	engineOpts := append(cfg.EngineOptions(), engine.WithLogger(logger))
	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		engine: engine.New(st, reg, engineOpts...),
	}, nil
}

// Close releases the database.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// commandContext returns the command's context or Background.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
