package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/splitpage/internal/metrics"
	"github.com/headline-goat/splitpage/internal/server"
	"github.com/headline-goat/splitpage/internal/store"
)

var port int

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Start the event collector",
	Long: `Start the collector that receives tracked events.

The collector provides:
  - Event endpoint at /site/<site>/event (pixel GET or beacon POST)
  - Server-side page decisions at /site/<site>/decide (with --settings)
  - Geo lookup at /geo
  - Prometheus metrics at /metrics
  - Captured events at /events (token protected)

Example:
  splitpage collect
  splitpage collect --port 8080`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().IntVarP(&port, "port", "p", cfg.Port, "port to listen on")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	return withStore(func(s *store.SQLiteStore) error {
		ctx := cmd.Context()

		// Keep the token stable across restarts
		token, err := s.GetSetting(ctx, store.SettingCollectorToken)
		if err == store.ErrNotFound {
			if token, err = server.GenerateToken(); err == nil {
				err = s.SetSetting(ctx, store.SettingCollectorToken, token)
			}
		}
		if err != nil {
			return fmt.Errorf("failed to load collector token: %w", err)
		}

		opts := []server.Option{
			server.WithDB(s),
			server.WithToken(token),
			server.WithTokenFile(getTokenFilePath()),
			server.WithMetrics(metrics.NewRecorder()),
			server.WithLogger(log),
		}
		if site, err := loadSettings(); err == nil {
			opts = append(opts, server.WithSettings(site))
			fmt.Printf("Deciding page loads for site %s at /site/%s/decide\n", site.SiteID, site.SiteID)
		} else {
			log.Debugw("no site settings, decide endpoint disabled", "error", err)
		}

		return server.New(s, port, opts...).Run(ctx, cmd.OutOrStdout())
	})
}
