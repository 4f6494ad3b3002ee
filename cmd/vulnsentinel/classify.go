package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vulnsentinel/vulnsentinel/internal/classifier"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify one batch of pending events",
	Long: `Runs the event classifier once over the unclassified backlog. Rule
verdicts are free; everything else goes through the LLM agent, so this can
spend tokens.`,
	RunE: runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app := newApp()
	defer app.Close()

	store, err := app.openStore(ctx)
	if err != nil {
		return err
	}

	engine, err := classifier.New(store, app.githubClient(), app.contentCache(ctx), app.llmClient(), store, cfg, app.logger)
	if err != nil {
		return err
	}

	classified, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	if classified == 0 {
		fmt.Println("Nothing to classify")
		return nil
	}
	fmt.Printf("✅ Classified %d event(s)\n", classified)
	return nil
}
