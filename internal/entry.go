// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/guardrail"
)

// Run starts the long-running reconcile loop: a periodic tick plus a drafts
// watcher, each funnelled through one serial worker so scheduler and
// publisher runs never overlap.
func Run(ctx context.Context, opts ...Option) error {
	a := &application{}
	for _, opt := range opts {
		opt(a)
	}

	app, err := NewApp(a.config, opts...)
	if err != nil {
		return err
	}
	logger := app.Logger

	runner := app.Scheduler()
	orch := app.Orchestrator()

	// tick reconciles schedules first so a freshly due draft publishes in
	// the same pass, then attempts one auto publish.
	tick := func(ctx context.Context) {
		if err := runner.Run(); err != nil {
			logger.Error("scheduler run failed", slog.String("error", err.Error()))
			return
		}
		res, err := orch.RunAuto(ctx)
		if err != nil {
			logger.Error("auto publish failed", slog.String("error", err.Error()))
			return
		}
		if res != nil && !res.Published && res.Decision.Reason == guardrail.ReasonStopped {
			logger.Warn("kill switch engaged", slog.String("detail", res.Decision.Detail))
		}
	}

	kicks := make(chan struct{}, 1)
	kick := func() {
		select {
		case kicks <- struct{}{}:
		default: // a run is already pending
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watchDrafts(gCtx, app.FS.Root(), logger, kick)
	})

	g.Go(func() error {
		ticker := time.NewTicker(app.Config.Daemon.Tick())
		defer ticker.Stop()
		tick(gCtx)
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				tick(gCtx)
			case <-kicks:
				tick(gCtx)
			}
		}
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			return errShutdown
		case <-gCtx.Done():
			return nil
		}
	})

	logger.Info("daemon started",
		slog.Duration("tick", app.Config.Daemon.Tick()))

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("daemon error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("daemon stopped")
	return nil
}

// errShutdown unwinds the errgroup on a signal without reporting failure.
var errShutdown = errors.New("shutdown requested")
