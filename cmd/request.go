package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"warden/internal/cli"
	"warden/internal/interceptor"

	"github.com/spf13/cobra"
)

// Request-specific flags
var (
	requestMethod  string
	requestData    string
	requestHeaders []string
	requestInclude bool
	requestTimeout time.Duration
)

// requestCmd represents the request command
var requestCmd = &cobra.Command{
	Use:   "request URL",
	Short: "Send an authenticated HTTP request",
	Long: `Send an HTTP request with the session's access token attached.

The anti-forgery header is copied from the configured cookie when the
server set one. On 401 Unauthorized the token is refreshed once and the
request retried; a second 401 ends the session unless
logoutOnRepeatedUnauthorized is disabled.

Examples:
  warden request https://api.example.com/me
  warden request -X POST -d '{"name":"x"}' -H 'Content-Type: application/json' https://api.example.com/items
  warden request -i https://api.example.com/health`,
	Args: cobra.ExactArgs(1),
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)

	requestCmd.Flags().StringVarP(&requestMethod, "request", "X", "", "HTTP method (default GET, or POST with --data)")
	requestCmd.Flags().StringVarP(&requestData, "data", "d", "", "Request body")
	requestCmd.Flags().StringArrayVarP(&requestHeaders, "header", "H", nil, "Extra header as 'Name: value' (repeatable)")
	requestCmd.Flags().BoolVarP(&requestInclude, "include", "i", false, "Print the response status line and headers")
	requestCmd.Flags().DurationVar(&requestTimeout, "timeout", 30*time.Second, "Request timeout")
}

func runRequest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	target := args[0]

	req, err := buildRequest(requestMethod, target, requestData, requestHeaders)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	if !s.adapter.IsLoggedIn() {
		authPrintln(cmd.ErrOrStderr(), "Not logged in; sending the request without a token.")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := interceptor.New(s.adapter, interceptor.WithConfig(s.cfg.Interceptor)).Client(jar)
	client.Timeout = requestTimeout

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return requestError(err, s.issuer(), target)
	}
	defer resp.Body.Close()

	if err := writeResponse(cmd.OutOrStdout(), resp, requestInclude); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s", req.Method, target, resp.Status)
	}
	return nil
}

// buildRequest creates the request from the command line flags.
func buildRequest(method, target, data string, headers []string) (*http.Request, error) {
	if method == "" {
		method = http.MethodGet
		if data != "" {
			method = http.MethodPost
		}
	}

	var body io.Reader
	if data != "" {
		body = strings.NewReader(data)
	}

	req, err := http.NewRequest(strings.ToUpper(method), target, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return req, nil
}

// requestError maps interceptor failures to CLI errors with exit codes.
func requestError(err error, issuer, target string) error {
	var unauthorized *interceptor.UnauthorizedError
	if errors.As(err, &unauthorized) {
		return &cli.AuthExpiredError{Issuer: issuer, Reason: unauthorized}
	}

	var csrf *interceptor.CSRFMismatchError
	if errors.As(err, &csrf) {
		return csrf
	}

	return classifyError(err, target)
}

// writeResponse copies the response body to w, preceded by the status line
// and headers when include is set.
func writeResponse(w io.Writer, resp *http.Response, include bool) error {
	if include {
		fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status)
		if err := resp.Header.Write(w); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return nil
}
