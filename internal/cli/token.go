package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/splitpage/internal/server"
	"github.com/headline-goat/splitpage/internal/store"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show captured events URL with access token",
	Long: `Show the captured events URL with your access token.

A rotated token takes effect the next time the collector starts.

Examples:
  splitpage token
  splitpage token --rotate`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

var rotateToken bool

func init() {
	tokenCmd.Flags().BoolVar(&rotateToken, "rotate", false, "replace the stored token with a new one")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		var (
			token string
			err   error
		)
		if rotateToken {
			token, err = rotate(cmd.Context(), s)
		} else {
			token, err = readToken(cmd.Context(), s)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Events: %s/events?token=%s\n", collectorURL(cmd.Context(), s), token)
		return nil
	})
}

// readToken prefers the token file of a running collector over the stored one.
func readToken(ctx context.Context, s *store.SQLiteStore) (string, error) {
	if data, err := os.ReadFile(getTokenFilePath()); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}

	token, err := s.GetSetting(ctx, store.SettingCollectorToken)
	if err == store.ErrNotFound {
		return "", fmt.Errorf("no collector token yet. Start one with: splitpage collect")
	}
	return token, err
}

func rotate(ctx context.Context, s *store.SQLiteStore) (string, error) {
	token, err := server.GenerateToken()
	if err != nil {
		return "", err
	}
	if err := s.SetSetting(ctx, store.SettingCollectorToken, token); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	// a stale token file would shadow the new token until the collector restarts
	if err := os.Remove(getTokenFilePath()); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove token file: %w", err)
	}
	return token, nil
}

func collectorURL(ctx context.Context, s *store.SQLiteStore) string {
	if u, err := s.GetSetting(ctx, store.SettingCollectorURL); err == nil && u != "" {
		return u
	}
	if cfg.CollectorURL != "" {
		return strings.TrimSuffix(cfg.CollectorURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Port)
}
