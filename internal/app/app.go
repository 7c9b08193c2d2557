// Package app wires the engine's pieces together for one CLI invocation:
// loading configuration, expanding parameters, building and running the
// workpackage graph, analyzing results, and composing output (spec §6).
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/gridbench/internal/config"
	"github.com/vk/gridbench/internal/ctxlog"
)

// App is one configured engine instance.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	loader config.Loader
}

// NewApp returns a ready-to-run App with its own isolated logger.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	return &App{outW: outW, logger: logger, loader: loader}
}

// Run dispatches cfg.Operation to its handler.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	switch cfg.Operation {
	case "run":
		return a.doRun(ctx, cfg)
	case "continue":
		return a.doContinue(ctx, cfg)
	case "analyse":
		return a.doAnalyse(ctx, cfg)
	case "result":
		return a.doResult(ctx, cfg)
	case "info":
		return a.doInfo(ctx, cfg)
	case "status":
		return a.doStatus(ctx, cfg)
	case "log":
		return a.doLog(ctx, cfg)
	case "comment":
		return a.doComment(ctx, cfg)
	case "remove":
		return a.doRemove(ctx, cfg)
	case "update":
		return a.doUpdate(ctx, cfg)
	default:
		return fmt.Errorf("app: unknown operation %q", cfg.Operation)
	}
}
