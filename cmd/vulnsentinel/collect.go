package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulnsentinel/vulnsentinel/internal/collector"
)

var collectCmd = &cobra.Command{
	Use:   "collect [library-id]",
	Short: "Fetch new upstream events for monitored libraries",
	Long: `Runs the event collector once. With a library ID only that library is
fetched, ignoring its activity window; without one, every stale library is
processed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCollect,
}

func runCollect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app := newApp()
	defer app.Close()

	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}

	if cfg.GitHub.Token == "" {
		cliLog.Warn("GITHUB_TOKEN is not set; unauthenticated requests get 60/h")
	}
	engine := collector.New(store, app.githubClient(), cfg.Collector, app.logger)

	if len(args) == 1 {
		lib, err := store.GetLibrary(ctx, args[0])
		if err != nil {
			return err
		}
		inserted, err := engine.CollectLibrary(ctx, lib)
		if err != nil {
			return err
		}
		fmt.Printf("✅ %s: %d new event(s)\n", lib.Name, inserted)
		return nil
	}

	inserted, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Collected %d new event(s)\n", inserted)
	return nil
}
