package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warden/internal/cli"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// Login-specific flags
var (
	loginNoBrowser bool
	loginTimeout   time.Duration
)

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the configured identity provider",
	Long: `Sign in to the configured OpenID Connect provider.

The authorization code flow with PKCE is started in the browser. The
provider redirects back to a local callback address, where the code is
exchanged for tokens that are stored for later commands.

Examples:
  warden login                 # Sign in through the default browser
  warden login --no-browser    # Print the URL instead of opening it
  warden login --timeout 2m    # Give up if sign-in takes longer`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 5*time.Minute, "How long to wait for the sign-in to complete")
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	opts := sessionOptions{manualLogin: true}
	if loginNoBrowser {
		opts.openURL = func(string) error { return nil }
	}

	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.adapter.IsLoggedIn() {
		authPrint(out, "%s Already logged in to %s as %s\n", text.FgGreen.Sprint("✓"), s.issuer(), displayName(s.adapter))
		return nil
	}

	if err := s.adapter.Login(ctx); err != nil {
		return &cli.AuthFailedError{Issuer: s.issuer(), Reason: classifyError(err, s.issuer())}
	}

	authURL := s.client.AuthorizationURL()
	if loginNoBrowser {
		// Always shown: without it the user cannot sign in.
		fmt.Fprintf(out, "Open the following URL in your browser to sign in:\n\n  %s\n\n", authURL)
	} else {
		authPrint(out, "Opening browser to sign in. If it does not open, visit:\n\n  %s\n\n", authURL)
	}

	waitCtx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	spin := cli.StartSpinner(cmd.ErrOrStderr(), "Waiting for sign-in...", quietMode)
	err = s.client.WaitForLogin(waitCtx)
	spin.Stop()
	if err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("no sign-in within %s", loginTimeout)
		}
		return &cli.AuthFailedError{Issuer: s.issuer(), Reason: err}
	}

	// The adapter learns about the new session from the client's event.
	expiry, err := s.adapter.AccessTokenExpiration(waitCtx)
	if err != nil {
		return &cli.AuthFailedError{Issuer: s.issuer(), Reason: err}
	}

	authPrint(out, "%s Logged in to %s as %s\n", text.FgGreen.Sprint("✓"), s.issuer(), displayName(s.adapter))
	authPrint(out, "  Token expires %s\n", cli.FormatExpiry(expiry, time.Now()))
	return nil
}

