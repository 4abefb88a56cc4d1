package cli

import (
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/headline-goat/splitpage/internal/clientstore"
	"github.com/headline-goat/splitpage/internal/session"
)

var consentCmd = &cobra.Command{
	Use:   "consent <visitor>",
	Short: "Grant or withdraw a visitor's consent cookie",
	Long: `Set the consent cookie named in the settings' gdprCookie for a visitor.

Visitors only take part in testing once the cookie carries the expected
value. Without a gdprCookie in the settings there is nothing to grant.

Example:
  splitpage consent alice`,
	Args: cobra.ExactArgs(1),
	RunE: runConsent,
}

func init() {
	rootCmd.AddCommand(consentCmd)
}

func runConsent(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if s.GDPRCookie.Name == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No consent cookie configured: every visitor may take part.")
		return nil
	}

	grant, err := promptConsent(s.GDPRCookie.Name)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	return withJars(func(jars clientstore.Backend) error {
		jar, err := jars.Load(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load cookies: %w", err)
		}

		if grant {
			value := s.GDPRCookie.Value
			if value == "" {
				value = "1"
			}
			jar.Set(s.GDPRCookie.Name, value, clientstore.LongLivedDays*clientstore.Day)
		} else {
			jar.Delete(s.GDPRCookie.Name)
		}

		if err := jars.Save(ctx, args[0], jar); err != nil {
			return fmt.Errorf("failed to save cookies: %w", err)
		}

		state := "withdrawn"
		if session.IsGDPRAccepted(jar, s.GDPRCookie) {
			state = "granted"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Consent %s for %s\n", state, args[0])
		return nil
	})
}

func promptConsent(cookie string) (bool, error) {
	prompt := promptui.Select{
		Label: fmt.Sprintf("Consent cookie %q", cookie),
		Items: []string{"Grant consent", "Withdraw consent"},
		Size:  2,
	}

	idx, _, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return false, err
	}
	return idx == 0, nil
}
