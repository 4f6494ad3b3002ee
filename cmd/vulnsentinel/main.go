package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	cliLog  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vulnsentinel",
	Short: "VulnSentinel - commit-time detection of upstream security fixes",
	Long: `VulnSentinel watches the upstream libraries your projects depend on,
classifies new commits, PRs, tags and bug reports with LLM agents, and tells
you which of your projects are exposed — weeks before a CVE lands.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cliLog = logrus.New()
		cliLog.SetOutput(os.Stderr)
		if verbose {
			cliLog.SetLevel(logrus.DebugLevel)
		} else {
			cliLog.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		// Interactive runs get readable text logs; anything piped or
		// supervised keeps the JSON line contract.
		if cfg.Logging.Format == "" || cfg.Logging.Format == "auto" {
			if term.IsTerminal(int(os.Stdout.Fd())) {
				cfg.Logging.Format = "text"
			} else {
				cfg.Logging.Format = "json"
			}
		}
		logging.Initialize(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .vulnsentinel/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`VulnSentinel {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dashboardCmd)
}
