package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulnsentinel/vulnsentinel/internal/analyzer"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one batch of security bugfix events",
	Long: `Runs the vulnerability analyzer once over security bugfixes that have no
extracted vulnerability yet. Each event costs an LLM agent run.`,
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app := newApp()
	defer app.Close()

	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}

	engine := analyzer.New(store, app.githubClient(), app.contentCache(ctx), app.llmClient(), store, cfg, app.logger)

	published, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	if published == 0 {
		fmt.Println("Nothing to analyze")
		return nil
	}
	fmt.Printf("✅ Published %d vulnerability record(s)\n", published)
	return nil
}
