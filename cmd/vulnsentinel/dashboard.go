package main

import (
	"fmt"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the VulnSentinel dashboard in a browser",
	RunE:  runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	url := cfg.Dashboard.URL
	if url == "" {
		url = "http://localhost:3000"
	}
	fmt.Printf("Opening %s\n", url)
	if err := browser.OpenURL(url); err != nil {
		return fmt.Errorf("failed to open browser: %w (visit %s manually)", err, url)
	}
	return nil
}
