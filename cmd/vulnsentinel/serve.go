package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vulnsentinel/vulnsentinel/internal/analyzer"
	"github.com/vulnsentinel/vulnsentinel/internal/api"
	"github.com/vulnsentinel/vulnsentinel/internal/classifier"
	"github.com/vulnsentinel/vulnsentinel/internal/collector"
	"github.com/vulnsentinel/vulnsentinel/internal/database"
	"github.com/vulnsentinel/vulnsentinel/internal/impact"
	"github.com/vulnsentinel/vulnsentinel/internal/notify"
	"github.com/vulnsentinel/vulnsentinel/internal/reachability"
	"github.com/vulnsentinel/vulnsentinel/internal/scanner"
	"github.com/vulnsentinel/vulnsentinel/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the VulnSentinel daemon: API server plus all engine loops",
	Long: `Starts the full pipeline. Migrations run first, then the admin user is
bootstrapped, then the seven engine loops and the HTTP API come up. The
process shuts down cleanly on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApp()
	defer app.Close()
	log := app.logger

	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if password, created, err := store.EnsureAdminUser(ctx, cfg.Admin.Username); err != nil {
		return err
	} else if created {
		// Printed once, never logged again. Operators rotate it via the API.
		log.Warn("admin.bootstrapped", "username", cfg.Admin.Username, "password", password)
	}

	codec, err := database.NewCursorCodec(cfg.Cursor.Secret)
	if err != nil {
		return err
	}

	gh := app.githubClient()
	llmClient := app.llmClient()
	content := app.contentCache(ctx)

	scanEngine := scanner.New(store, scanner.NewGitCloner(cfg.Scanner.CloneDir), cfg.Scanner, log)
	collectEngine := collector.New(store, gh, cfg.Collector, log)
	classifyEngine, err := classifier.New(store, gh, content, llmClient, store, cfg, log)
	if err != nil {
		return err
	}
	analyzeEngine := analyzer.New(store, gh, content, llmClient, store, cfg, log)
	impactEngine := impact.New(store, log)
	reachEngine := reachability.New(store, reachability.NewClient(cfg.Analysis, log), cfg.Analysis, log)
	notifyEngine := notify.New(store, notify.FromConfig(cfg.Notify, log), log)

	loops := []*scheduler.EngineLoop{
		{Name: "scanner", Run: scanEngine.RunBatch, Interval: cfg.Scheduler.ScanInterval},
		{Name: "collector", Run: collectEngine.Run, Interval: cfg.Scheduler.CollectInterval},
		{Name: "classifier", Run: classifyEngine.Run, Interval: cfg.Scheduler.ClassifyInterval},
		{Name: "analyzer", Run: analyzeEngine.Run, Interval: cfg.Scheduler.AnalyzeInterval},
		{Name: "impact", Run: impactEngine.Run, Interval: cfg.Scheduler.ImpactInterval},
		{Name: "reachability", Run: reachEngine.Run, Interval: cfg.Scheduler.ReachabilityInterval},
		{Name: "notification", Run: notifyEngine.Run, Interval: cfg.Scheduler.NotifyInterval},
	}
	scheduler.Chain(loops...)

	sched := scheduler.New(log)
	sched.Add(loops...)
	sched.Start(ctx)

	server := api.New(store, impactEngine, cfg.Server, codec, log)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	log.Info("daemon.started", "version", Version, "addr", cfg.Server.Addr)

	select {
	case <-ctx.Done():
		log.Info("daemon.stopping", "reason", "signal")
	case err := <-serverErr:
		if err != nil {
			log.Error("daemon.server_failed", "error", err.Error())
		}
		stop()
	}

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("daemon.shutdown_incomplete", "error", err.Error())
	}

	log.Info("daemon.stopped")
	return nil
}
