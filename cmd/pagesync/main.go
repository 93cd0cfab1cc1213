// pagesync reconciles record-store collections with external issue
// trackers, per the projects defined in its configuration file.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Tracker adapters register themselves at init time.
	_ "github.com/pagesync/pagesync/internal/tracker/bugzilla"
	_ "github.com/pagesync/pagesync/internal/tracker/github"
)

var (
	cfgPath       string
	dryRun        bool
	verboseFlag   bool
	updateSchema  bool
	deleteOrphans bool
)

var rootCmd = &cobra.Command{
	Use:           "pagesync",
	Short:         "Reconcile record collections with issue trackers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "pagesync.toml", "configuration file")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log mutations instead of applying them")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(syncCmd, projectsCmd)

	// Secrets come from the environment, never from the config file.
	_ = viper.BindEnv("notion_token", "NOTION_TOKEN")
	_ = viper.BindEnv("github_token", "GITHUB_TOKEN")
	_ = viper.BindEnv("bugzilla_api_key", "BUGZILLA_API_KEY")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("pagesync failed", "error", err)
		os.Exit(1)
	}
}
