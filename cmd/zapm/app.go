package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/zapm/internal/config"
	"github.com/loykin/zapm/internal/history"
	histfactory "github.com/loykin/zapm/internal/history/factory"
	"github.com/loykin/zapm/internal/manager"
	"github.com/loykin/zapm/internal/registry"
	"github.com/loykin/zapm/internal/store"
	storefactory "github.com/loykin/zapm/internal/store/factory"
)

// app is everything a command needs to act on the process table directly.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	reg    *registry.Registry
	hist   *history.Recorder
	sup    *manager.Supervisor

	closeLog io.Closer
}

type appOptions struct {
	console io.Writer
	// cli quiets the logger and detaches spawned children from this process
	cli     bool
	verbose bool
}

func openApp(ctx context.Context, dir string, o appOptions) (*app, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	return openAppWith(ctx, cfg, o)
}

func openAppWith(ctx context.Context, cfg *config.Config, o appOptions) (*app, error) {
	logCfg := cfg.Log
	if o.cli {
		logCfg.Slog.Path = ""
		if !o.verbose {
			logCfg.Slog.Level = "warn"
		}
	}
	logger, closeLog := logCfg.NewSlogger(o.console)

	st, err := storefactory.NewFromDSN(cfg.Store.DSN)
	if err != nil {
		_ = closeLog.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: st, closeLog: closeLog}
	a.reg = registry.New(ctx, st, logger)

	sinks, err := histfactory.NewSinks(ctx, cfg.History.Sinks)
	if err != nil {
		// history is an add-on; the process table stays usable without it
		logger.Warn("history disabled", "error", err)
	}
	a.hist = history.NewRecorder(logger, sinks...)

	childEnv, err := cfg.ChildEnv()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.sup = manager.New(manager.Options{
		Registry:  a.reg,
		Env:       childEnv,
		Logs:      cfg.Log,
		History:   a.hist,
		StopGrace: cfg.StopGrace,
		Logger:    logger,
		Detached:  o.cli,
	})
	return a, nil
}

// Close flushes history and releases the store and the log file.
func (a *app) Close() error {
	_ = a.hist.Close()
	err := a.store.Close()
	_ = a.closeLog.Close()
	return err
}
