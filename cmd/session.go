package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"warden/internal/authstate"
	"warden/internal/cli"
	"warden/internal/config"
	"warden/internal/oidc"
	"warden/pkg/logging"
)

// session bundles what a command needs to talk to the identity provider.
type session struct {
	cfg     config.Config
	client  *oidc.Client
	adapter *authstate.Adapter
}

// sessionOptions tune openSession for a single command.
type sessionOptions struct {
	// openURL receives the authorization URL. Nil opens the browser.
	openURL func(string) error

	// manualLogin disables autoLogin because the command starts the
	// login flow itself.
	manualLogin bool
}

// openSession loads and validates the configuration, creates the OIDC client
// with its token store and configures it through the adapter, which restores
// any stored session. The caller must Close the returned session.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := oidc.NewTokenStore(oidc.TokenStoreConfig{
		Type: cfg.Storage.Type,
		Dir:  cfg.Storage.Dir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open token storage: %w", err)
	}

	openURL := opts.openURL
	if openURL == nil {
		openURL = oidc.OpenBrowser
	}

	client := oidc.NewClient(
		oidc.WithTokenStore(store),
		oidc.WithURLOpener(openURL),
	)
	adapter := authstate.New(client, authstate.WithAutoLogin(cfg.Auth.AutoLogin && !opts.manualLogin))
	s := &session{cfg: cfg, client: client, adapter: adapter}

	if err := adapter.Configure(ctx, cfg.Auth); err != nil {
		s.Close()
		return nil, classifyError(err, cfg.Auth.Issuer)
	}
	return s, nil
}

// Close stops the adapter and the client. The stored session is kept.
func (s *session) Close() {
	_ = s.adapter.Close()
	_ = s.client.Close()
}

// issuer returns the configured issuer URL.
func (s *session) issuer() string {
	return s.cfg.Auth.Issuer
}

// loadConfig reads config.yaml from the config path, validates it and
// applies its logging section.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		var ce config.ConfigurationError
		if errors.As(err, &ce) {
			return config.Config{}, errors.New(ce.DetailedError())
		}
		return config.Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration in %s:\n%w", configPath, err)
	}

	level, format := loggingSettings(cfg)
	logging.Init(level, format, os.Stderr)
	return cfg, nil
}

// loggingSettings derives the log level and format from the configuration
// and the --debug flag.
func loggingSettings(cfg config.Config) (logging.LogLevel, logging.Format) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.LevelWarn
	}
	if debugMode || cfg.Auth.ShowDebugInformation {
		level = logging.LevelDebug
	}

	format := logging.FormatText
	if cfg.Logging.Format == string(logging.FormatJSON) {
		format = logging.FormatJSON
	}
	return level, format
}

// classifyError turns transport failures into a ConnectionError naming the
// endpoint. Other errors are returned unchanged.
func classifyError(err error, endpoint string) error {
	if connErr := cli.ClassifyConnectionError(err, endpoint); connErr != nil {
		return connErr
	}
	return err
}

// displayName returns the best human-readable identity of the session.
func displayName(adapter *authstate.Adapter) string {
	if name := adapter.FullName(); name != "" {
		return name
	}
	if sub, ok := adapter.UserID(); ok {
		return sub
	}
	return "unknown user"
}

// authPrint prints output only if the --quiet flag is not set.
// Use this for progress messages and non-essential output.
func authPrint(w io.Writer, format string, args ...interface{}) {
	if !quietMode {
		fmt.Fprintf(w, format, args...)
	}
}

// authPrintln prints a line only if the --quiet flag is not set.
func authPrintln(w io.Writer, a ...interface{}) {
	if !quietMode {
		fmt.Fprintln(w, a...)
	}
}
