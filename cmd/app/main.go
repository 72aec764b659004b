package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ansuz/internal"
	"github.com/starford/ansuz/internal/authflow"
	"github.com/starford/ansuz/internal/draft"
	"github.com/starford/ansuz/internal/guardrail"
	"github.com/starford/ansuz/internal/insights"
	"github.com/starford/ansuz/internal/scheduler"
	"github.com/starford/ansuz/internal/secrets"
	pkgconfig "github.com/starford/ansuz/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	configPath := cmd.String("config")
	loaded, err := pkgconfig.LoadIfExists(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !loaded && cmd.IsSet("config") {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}
	return cfg, nil
}

func newApp(cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return internal.NewApp(cfg)
}

func runSchedule(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	return app.Scheduler().Run()
}

func runPublish(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("usage: publish <draft-file>")
	}
	mode := guardrail.ModeManual
	if cmd.String("mode") == "auto" {
		mode = guardrail.ModeAuto
	}

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	// Accept either a bare file name or a path; drafts always live in
	// the workspace drafts directory.
	res, err := app.Orchestrator().Publish(ctx, path.Join(draft.Dir, filepath.Base(id)), mode, cmd.Bool("dry-run"))
	if err != nil {
		return err
	}
	switch {
	case res.DryRun:
		fmt.Printf("dry run: %s would publish\n", res.DraftID)
	case res.Published:
		fmt.Printf("published %s as post %s\n", res.DraftID, res.PostID)
	default:
		// A manual denial is an error: the caller asked for this exact
		// draft and needs a non-zero exit.
		return res.Decision.Err()
	}
	return nil
}

func runAuto(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	res, err := app.Orchestrator().RunAuto(ctx)
	if err != nil {
		return err
	}
	switch {
	case res.DraftID == "":
		fmt.Println("no draft due")
	case res.Published:
		fmt.Printf("published %s as post %s\n", res.DraftID, res.PostID)
	default:
		// Auto denials are routine (rate limits, kill switch): report
		// and exit clean so cron does not page.
		fmt.Printf("skipped %s: %s\n", res.DraftID, res.Decision.Reason)
	}
	return nil
}

func runDaemon(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Run(ctx, internal.WithConfig(cfg))
}

func runMetrics(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	fetcher, err := app.Fetcher()
	if err != nil {
		return err
	}
	minInterval := time.Duration(app.Config.Metrics.MinIntervalMinutes) * time.Minute
	stored, apiErrors, err := fetcher.Run(ctx, app.Config.Metrics.FetchLimit, minInterval)
	if err != nil {
		return err
	}
	fmt.Printf("stored %d snapshots (%d api errors)\n", stored, apiErrors)
	return nil
}

func runReport(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	db, err := app.OpenInsights()
	if err != nil {
		return err
	}
	defer db.Close()

	reporter := insights.NewReporter(db, app.FS, nil)
	if err := reporter.WritePerformance(); err != nil {
		return err
	}
	rec, err := reporter.CheckEligibility()
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s and %s\n", insights.PerformanceFile, insights.EligibilityFile)
	fmt.Printf("eligibility: %d/%d impressions over %d days (%.2f%%)\n",
		rec.Impressions, rec.Threshold, rec.WindowDays, rec.Progress*100)
	return nil
}

func runLogin(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	oauth := app.Config.OAuth
	clientID := oauth.ClientID
	if clientID == "" {
		clientID = os.Getenv("X_CLIENT_ID")
	}
	if clientID == "" {
		return errors.New("no OAuth client id: set oauth.client_id in config or X_CLIENT_ID")
	}
	scopes := oauth.Scopes
	if scopes == "" {
		scopes = authflow.DefaultScopes
	}

	verifier, err := authflow.NewVerifier()
	if err != nil {
		return err
	}
	state, err := authflow.NewState()
	if err != nil {
		return err
	}

	fmt.Println("Open this URL in a browser and authorize the app:")
	fmt.Println()
	fmt.Println("  " + authflow.AuthURL(clientID, oauth.RedirectURI, scopes, state, verifier))
	fmt.Println()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	code, err := authflow.WaitForCallback(waitCtx, oauth.CallbackAddr, state, app.Logger)
	if err != nil {
		// The redirect may land in a browser that cannot reach this
		// machine; accept the URL or code pasted by hand instead.
		fmt.Printf("callback failed (%v)\npaste the redirect URL or authorization code: ", err)
		line, readErr := bufio.NewReader(os.Stdin).ReadString('\n')
		if readErr != nil && line == "" {
			return err
		}
		code, err = authflow.ParseAuthCode(line)
		if err != nil {
			return err
		}
	}

	tok, err := authflow.Exchange(ctx, nil, clientID, oauth.RedirectURI, code, verifier)
	if err != nil {
		return err
	}

	tokenPath := secrets.ExpandHome(app.Config.Secrets.File)
	if tokenPath == "" {
		root := app.Config.Secrets.Root
		if root == "" {
			root = secrets.DefaultRoot
		}
		tokenPath = filepath.Join(secrets.ExpandHome(root), filepath.Base(app.FS.Root()))
	}
	if err := authflow.SaveToken(tokenPath, tok); err != nil {
		return err
	}
	fmt.Printf("token saved to %s\n", tokenPath)
	return nil
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}

	stopped, detail := app.Env.Stopped()
	if stopped {
		fmt.Printf("kill switch: engaged (%s)\n", detail)
	} else {
		fmt.Println("kill switch: off")
	}
	fmt.Printf("host: %s (required: %s)\n", app.Env.Host(), app.Rules.RequiredHost)

	snap, err := app.Ledger.Snapshot()
	if err != nil {
		return err
	}
	fmt.Printf("published posts: %d total, %d in the last 24h (cap %d)\n",
		snap.Len(), snap.CountInWindow(guardrail.Window, app.Now()), app.Rules.MaxPostsPerDay)

	drafts, err := app.Store.List()
	if err != nil {
		return err
	}
	armed := 0
	for _, d := range drafts {
		if !d.Meta.AutoPublish || snap.ContainsDraft(d.ID) {
			continue
		}
		armed++
		fmt.Printf("armed: %s (scheduled_at %s)\n", d.ID, d.RawScheduled())
	}
	if armed == 0 {
		fmt.Println("armed: none")
	}

	earliest := scheduler.EarliestSchedule(snap, app.Sched, app.Now())
	if at, err := scheduler.NextSlot(earliest, app.Sched.Location, app.Sched.Slots, app.Sched.HorizonDays); err == nil {
		fmt.Printf("next slot: %s (%s)\n",
			at.Format(time.RFC3339),
			at.In(app.Sched.Location).Format("2006-01-02 15:04 MST"))
	}
	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	return app.MCP().ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:  "ansuz",
		Usage: "Scheduled, guardrailed publishing for an autonomous posting agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "schedule",
				Usage:  "Reconcile draft schedules: disarm published drafts, arm the next one",
				Action: runSchedule,
			},
			{
				Name:      "publish",
				Usage:     "Publish one draft through the guardrails",
				ArgsUsage: "<draft-file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Guardrail mode: human or auto",
						Value: "human",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Evaluate guardrails without posting",
					},
				},
				Action: runPublish,
			},
			{
				Name:   "auto",
				Usage:  "Publish the due armed draft, if any (cron entry point)",
				Action: runAuto,
			},
			{
				Name:   "run",
				Usage:  "Run the reconcile daemon (scheduler + auto publish + drafts watcher)",
				Action: runDaemon,
			},
			{
				Name:   "metrics",
				Usage:  "Fetch metrics snapshots for recent posts into " + draft.MetricsFile,
				Action: runMetrics,
			},
			{
				Name:   "report",
				Usage:  "Rebuild insights and write the performance and eligibility reports",
				Action: runReport,
			},
			{
				Name:   "login",
				Usage:  "Obtain a user-context access token via OAuth 2.0 PKCE",
				Action: runLogin,
			},
			{
				Name:   "status",
				Usage:  "Show kill switch, host, rate-limit, and queue state",
				Action: runStatus,
			},
			{
				Name:   "mcp",
				Usage:  "Serve read-only agent tools over MCP stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
