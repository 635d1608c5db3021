package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warden/internal/cli"
	"warden/pkg/logging"

	"github.com/spf13/cobra"
)

// Token-specific flags
var (
	tokenID      bool
	tokenWait    bool
	tokenTimeout time.Duration
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the current access token",
	Long: `Print the access token of the current session, or the raw ID token
with --id, for use in scripts:

  curl -H "Authorization: Bearer $(warden token)" https://api.example.com/

Without a valid session the command exits with code 2. With --wait it
blocks until a session exists instead: a login started by autoLogin, or a
login in another terminal when sessionChecksEnabled is set.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().BoolVar(&tokenID, "id", false, "Print the ID token instead of the access token")
	tokenCmd.Flags().BoolVar(&tokenWait, "wait", false, "Wait for a login instead of failing")
	tokenCmd.Flags().DurationVar(&tokenTimeout, "timeout", 5*time.Minute, "Maximum time to wait with --wait")
}

func runToken(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.adapter.IsLoggedIn() {
		if !tokenWait {
			return &cli.AuthRequiredError{Issuer: s.issuer()}
		}

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tokenTimeout)
		defer cancel()

		// An autoLogin flow only completes while someone waits for it.
		if authURL := s.client.AuthorizationURL(); authURL != "" {
			authPrint(cmd.ErrOrStderr(), "Sign in at:\n\n  %s\n\n", authURL)
			go func() {
				if err := s.client.WaitForLogin(ctx); err != nil && ctx.Err() == nil {
					logging.Warn("CLI", "Login did not complete: %v", err)
				}
			}()
		}
	}

	var token string
	if tokenID {
		token, err = s.adapter.IDToken(ctx)
	} else {
		token, err = s.adapter.AccessToken(ctx)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &cli.AuthRequiredError{Issuer: s.issuer()}
		}
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
