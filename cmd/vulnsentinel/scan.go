package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulnsentinel/vulnsentinel/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan [project-id]",
	Short: "Scan project manifests and sync dependency rows",
	Long: `Runs the dependency scanner once. With a project ID only that project is
scanned, ignoring its freshness window; without one, every project due for
a scan is processed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app := newApp()
	defer app.Close()

	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}

	cliLog.Debugf("clone cache: %s", cfg.Scanner.CloneDir)
	engine := scanner.New(store, scanner.NewGitCloner(cfg.Scanner.CloneDir), cfg.Scanner, app.logger)

	if len(args) == 1 {
		result, err := engine.RunOne(ctx, args[0])
		if err != nil {
			return err
		}
		printScanResult(result)
		return nil
	}

	scanned, err := engine.RunBatch(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Scanned %d project(s)\n", scanned)
	return nil
}

func printScanResult(result *scanner.ScanResult) {
	if result.Skipped {
		fmt.Printf("⏭️  Project %s skipped (auto_sync_deps disabled)\n", result.ProjectID)
		return
	}
	fmt.Printf("✅ Project %s\n", result.ProjectID)
	fmt.Printf("  Manifests: %d\n", len(result.Manifests))
	for _, m := range result.Manifests {
		fmt.Printf("    %s\n", m)
	}
	fmt.Printf("  Dependencies synced: %d\n", result.Synced)
	fmt.Printf("  Stale rows removed:  %d\n", result.Removed)
	if len(result.Unlinked) > 0 {
		fmt.Printf("  Without a repository URL (add manually if relevant):\n")
		for _, dep := range result.Unlinked {
			fmt.Printf("    %s (%s, from %s)\n", dep.LibraryName, dep.DetectionMethod, dep.SourceFile)
		}
	}
}
