package cmd

import (
	"time"

	"warden/internal/cli"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session status",
	Long: `Show whether a valid session exists for the configured provider,
when its access token expires and who it belongs to.

A stored session whose access token has expired is refreshed first when
silent refresh is enabled.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), sessionOptions{manualLogin: true})
	if err != nil {
		return err
	}
	defer s.Close()

	cli.RenderSessionTable(cmd.OutOrStdout(), sessionInfo(s), time.Now())
	return nil
}

// sessionInfo collects what the status table shows. Nothing here waits for
// a login.
func sessionInfo(s *session) cli.SessionInfo {
	info := cli.SessionInfo{
		Issuer:    s.cfg.Auth.Issuer,
		ClientID:  s.cfg.Auth.ClientID,
		LoggedIn:  s.adapter.IsLoggedIn(),
		Storage:   string(s.cfg.Storage.Type),
		Discovery: s.cfg.Auth.Discovery.Enabled,
	}
	if !info.LoggedIn {
		return info
	}

	if expiry, err := s.client.AccessTokenExpiration(); err == nil {
		info.Expiry = expiry
	}
	if sub, ok := s.adapter.UserID(); ok {
		info.UserID = sub
	}
	info.Name = s.adapter.FullName()
	return info
}
