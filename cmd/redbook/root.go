package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/baohengtao/redbook/pkg/config"
	"github.com/baohengtao/redbook/pkg/logger"
)

var (
	// Version information, overridden at build time
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	account    string
	mediaDir   string
	database   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "redbook",
	Short: "Archive the notes and media of followed xiaohongshu users",
	Long: `redbook polls the profiles of opted-in users, stores their notes in a
local database and downloads note media with embedded metadata.

Polling adapts to each author's posting rate, requests are paced and
signed like a browser session, and any change in the platform's payload
shape aborts the affected record instead of storing bad data.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and runs it
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.config/redbook/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&account, "account", "", "stored session account to use")
	rootCmd.PersistentFlags().StringVar(&mediaDir, "media-dir", "", "directory for downloaded media")
	rootCmd.PersistentFlags().StringVar(&database, "database", "", "path to the SQLite database")

	rootCmd.SetVersionTemplate(`redbook {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads configuration with the global flags applied and
// initializes logging.
func loadConfig() (*config.Config, error) {
	flags := make(map[string]interface{})
	if account != "" {
		flags["account"] = account
	}
	if mediaDir != "" {
		flags["media-dir"] = mediaDir
	}
	if database != "" {
		flags["database"] = database
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}
