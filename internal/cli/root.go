package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/headline-goat/splitpage/internal/config"
)

var (
	dbPath       string
	settingsPath string
	redisURL     string
	debug        bool
)

// cfg is loaded before any init so flag defaults can use it.
var cfg, cfgErr = config.Load()

var rootCmd = &cobra.Command{
	Use:   "splitpage",
	Short: "splitpage - split testing engine and event collector",
	Long: `splitpage runs the split testing engine against simulated page loads and
collects the events it sends.

Visitors are identified by name; their cookies are kept in the database
(or in Redis with --redis) between page loads.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfgErr
	},
}

// Execute runs the root command. Commands stop when ctx is cancelled.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DBPath, "database path")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", cfg.SettingsPath, "site settings file (.json or .yaml)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", cfg.RedisURL, "keep visitor cookies in Redis instead of the database")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", cfg.Debug, "log engine decisions to stderr")
}
