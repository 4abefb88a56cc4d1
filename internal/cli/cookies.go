package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/store"
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies [visitor]",
	Short: "Show a visitor's cookies, or list known visitors",
	Long: `Show the cookies splitpage keeps for a visitor.

Without a visitor, list every visitor with live cookies in the database.

Examples:
  splitpage cookies
  splitpage cookies alice`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCookies,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <visitor>",
	Short: "Delete every cookie of a visitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func init() {
	rootCmd.AddCommand(cookiesCmd)
	rootCmd.AddCommand(forgetCmd)
}

func runCookies(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if len(args) == 0 {
		return withStore(func(s *store.SQLiteStore) error {
			visitors, err := s.ListVisitors(ctx)
			if err != nil {
				return err
			}
			if len(visitors) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No visitors yet. Run: splitpage visit <visitor> --url <url>")
				return nil
			}
			for _, v := range visitors {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		})
	}

	return withJars(func(jars clientstore.Backend) error {
		jar, err := jars.Load(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load cookies: %w", err)
		}

		entries := jar.Entries()
		if len(entries) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No cookies for %s\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tEXPIRES\tVALUE")
		for _, e := range entries {
			expires := "session"
			if !e.Expires.IsZero() {
				expires = e.Expires.Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, expires, e.Value)
		}
		return w.Flush()
	})
}

func runForget(cmd *cobra.Command, args []string) error {
	return withJars(func(jars clientstore.Backend) error {
		if err := jars.Forget(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to forget visitor: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", args[0])
		return nil
	})
}
