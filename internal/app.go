package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/ansuz/internal/draft"
	"github.com/starford/ansuz/internal/guardrail"
	"github.com/starford/ansuz/internal/insights"
	"github.com/starford/ansuz/internal/ledger"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/publisher"
	"github.com/starford/ansuz/internal/scheduler"
	"github.com/starford/ansuz/internal/secrets"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/xapi"
)

// App bundles the wired components every command works with.
type App struct {
	Config *Config
	Logger *slog.Logger
	FS     *storage.FS
	Store  *draft.Store
	Ledger *ledger.Ledger
	Env    *publisher.Environment
	Rules  guardrail.Rules
	Sched  scheduler.Config

	now func() time.Time
}

// NewApp builds the application from configuration. It creates the workspace
// directories, sets up the JSON logger, and loads secrets files into the
// environment (existing variables win).
func NewApp(cfg *Config, opts ...Option) (*App, error) {
	a := &application{config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, errors.New("config is required")
	}
	if a.now == nil {
		a.now = time.Now
	}
	cfg = a.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Join(cfg.Workspace.Path, draft.Dir), 0o755); err != nil {
		return nil, fmt.Errorf("create drafts dir: %w", err)
	}

	fs, err := storage.NewFS(cfg.Workspace.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	workspaceName := filepath.Base(fs.Root())
	loaded, err := secrets.Load(secrets.Candidates(workspaceName, cfg.Secrets.File, cfg.Secrets.Root))
	if err != nil {
		return nil, err
	}
	for _, f := range loaded {
		logger.Debug("loaded secrets file", slog.String("path", f))
	}

	store := draft.NewStore(fs, logger)

	ledgerPath, err := fs.Abs(draft.LedgerFile)
	if err != nil {
		return nil, err
	}
	lg := ledger.New(ledgerPath)

	env := publisher.NewEnvironment(fs, cfg.Guardrail.KillSwitchPath)

	sched, err := cfg.SchedulerConfig()
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Logger: logger,
		FS:     fs,
		Store:  store,
		Ledger: lg,
		Env:    env,
		Rules:  cfg.Guardrail.Rules(),
		Sched:  sched,
		now:    a.now,
	}

	logger.Info("workspace ready",
		slog.String("path", fs.Root()),
		slog.String("log_level", cfg.App.LogLevel.String()))
	return app, nil
}

// Now returns the application clock.
func (app *App) Now() time.Time {
	return app.now().UTC()
}

// Scheduler returns a scheduler runner over the workspace.
func (app *App) Scheduler() *scheduler.Runner {
	return scheduler.NewRunner(app.Store, app.Ledger, app.Sched, app.Logger, app.now)
}

// Client returns an API client whose token resolves lazily, so dry runs and
// denied publishes never need credentials.
func (app *App) Client() *xapi.Client {
	return xapi.NewClient(app.Config.API.BaseURL, secrets.AccessToken, nil, app.Logger)
}

// Orchestrator returns the publish orchestrator.
func (app *App) Orchestrator() *publisher.Orchestrator {
	return publisher.New(app.Store, app.Ledger, app.Env, app.Rules, app.Client(), app.Logger, app.now)
}

// Fetcher returns the metrics fetcher.
func (app *App) Fetcher() (*metrics.Fetcher, error) {
	path, err := app.FS.Abs(draft.MetricsFile)
	if err != nil {
		return nil, err
	}
	return metrics.NewFetcher(app.Ledger, path, app.Client(), app.Logger, app.now), nil
}

// OpenInsights opens the read-model database and rebuilds it from the
// ledger, metrics history, and draft topics. The caller closes it.
func (app *App) OpenInsights() (*insights.DB, error) {
	dbPath, err := app.FS.Abs(app.Config.Insights.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := insights.Open(dbPath)
	if err != nil {
		return nil, err
	}

	snap, err := app.Ledger.Snapshot()
	if err != nil {
		db.Close()
		return nil, err
	}
	metricsPath, err := app.FS.Abs(draft.MetricsFile)
	if err != nil {
		db.Close()
		return nil, err
	}
	snaps, err := metrics.ReadAll(metricsPath)
	if err != nil {
		db.Close()
		return nil, err
	}

	topics := make(map[string]string)
	if drafts, listErr := app.Store.List(); listErr == nil {
		for _, d := range drafts {
			if d.Meta.Topics != "" {
				topics[d.ID] = d.Meta.Topics
			}
		}
	}

	if err := db.Sync(snap.Entries(), snaps, topics); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// MCP returns the stdio MCP server.
func (app *App) MCP() *mcpserver.Server {
	return mcpserver.New(app.Store, app.Ledger, app.Env, app.Rules, app.Sched, app.now)
}
