package cmd

import (
	"fmt"
	"time"

	"warden/internal/cli"

	"github.com/spf13/cobra"
)

// whoamiCmd represents the whoami command
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in identity",
	Long: `Show the subject and name from the ID token of the current session.

Exits with code 2 when there is no valid session.`,
	Args: cobra.NoArgs,
	RunE: runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.adapter.IsLoggedIn() {
		return &cli.AuthRequiredError{Issuer: s.issuer()}
	}

	out := cmd.OutOrStdout()
	info := sessionInfo(s)

	if info.Name != "" {
		fmt.Fprintf(out, "Name:    %s\n", info.Name)
	}
	if first, ok := s.adapter.FirstName(); ok {
		fmt.Fprintf(out, "Given:   %s\n", first)
	}
	if last, ok := s.adapter.LastName(); ok {
		fmt.Fprintf(out, "Family:  %s\n", last)
	}
	if info.UserID != "" {
		fmt.Fprintf(out, "Subject: %s\n", info.UserID)
	}
	fmt.Fprintf(out, "Issuer:  %s\n", info.Issuer)
	fmt.Fprintf(out, "Expires: %s\n", cli.FormatExpiry(info.Expiry, time.Now()))
	return nil
}
