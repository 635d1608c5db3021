package cmd

import (
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and clear stored tokens",
	Long: `End the current session.

The refresh and access tokens are revoked at the provider when it offers a
revocation endpoint, and the stored tokens are removed. Later commands
require a new login.`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	s, err := openSession(ctx, sessionOptions{manualLogin: true})
	if err != nil {
		return err
	}
	defer s.Close()

	wasLoggedIn := s.adapter.IsLoggedIn()
	if err := s.adapter.Logout(ctx); err != nil {
		return classifyError(err, s.issuer())
	}

	if !wasLoggedIn {
		authPrintln(out, "No active session; stored tokens cleared.")
		return nil
	}
	authPrint(out, "%s Logged out from %s\n", text.FgGreen.Sprint("✓"), s.issuer())
	return nil
}
