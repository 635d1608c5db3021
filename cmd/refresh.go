package cmd

import (
	"time"

	"warden/internal/cli"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a token refresh",
	Long: `Exchange the stored refresh token for new tokens now, regardless of
when the silent refresh is due.

Exits with code 2 when there is no session or the provider rejects the
refresh token.`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	s, err := openSession(ctx, sessionOptions{manualLogin: true})
	if err != nil {
		return err
	}
	defer s.Close()

	// RefreshToken waits for a login; fail fast instead.
	if !s.adapter.IsLoggedIn() {
		return &cli.AuthExpiredError{Issuer: s.issuer()}
	}

	spin := cli.StartSpinner(cmd.ErrOrStderr(), "Refreshing token...", quietMode)
	err = s.adapter.RefreshToken(ctx)
	spin.Stop()
	if err != nil {
		if connErr := cli.ClassifyConnectionError(err, s.issuer()); connErr != nil {
			return connErr
		}
		return &cli.AuthExpiredError{Issuer: s.issuer(), Reason: err}
	}

	authPrint(out, "%s Token refreshed\n", text.FgGreen.Sprint("✓"))
	if expiry, err := s.client.AccessTokenExpiration(); err == nil {
		authPrint(out, "  Token expires %s\n", cli.FormatExpiry(expiry, time.Now()))
	}
	return nil
}
