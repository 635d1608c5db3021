package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SessionInfo is what the status command shows about a session.
type SessionInfo struct {
	Issuer    string
	ClientID  string
	LoggedIn  bool
	Expiry    time.Time
	UserID    string
	Name      string
	Storage   string
	Discovery bool
}

// Spinner is a progress indicator that stays silent in quiet mode.
type Spinner struct {
	s *spinner.Spinner
}

// StartSpinner shows suffix next to a spinner on w until Stop is called.
func StartSpinner(w io.Writer, suffix string, quiet bool) *Spinner {
	if quiet {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	s.Start()
	return &Spinner{s: s}
}

// Stop removes the spinner.
func (s *Spinner) Stop() {
	if s.s != nil {
		s.s.Stop()
	}
}

// RenderSessionTable writes info as a two-column table.
func RenderSessionTable(w io.Writer, info SessionInfo, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Options.SeparateRows = false
	t.Style().Options.DrawBorder = false

	t.AppendRow(table.Row{"Issuer", info.Issuer})
	t.AppendRow(table.Row{"Client", info.ClientID})
	t.AppendRow(table.Row{"Status", FormatLoginStatus(info.LoggedIn)})
	if info.LoggedIn {
		t.AppendRow(table.Row{"Expires", FormatExpiry(info.Expiry, now)})
	}
	if info.UserID != "" {
		t.AppendRow(table.Row{"Subject", info.UserID})
	}
	if info.Name != "" {
		t.AppendRow(table.Row{"Name", info.Name})
	}
	t.AppendRow(table.Row{"Storage", info.Storage})
	t.AppendRow(table.Row{"Discovery", FormatEnabled(info.Discovery)})

	t.Render()
}

// FormatLoginStatus renders the login state with color.
func FormatLoginStatus(loggedIn bool) string {
	if loggedIn {
		return text.FgGreen.Sprint("Logged in")
	}
	return text.FgYellow.Sprint("Not logged in")
}

// FormatEnabled renders a toggle.
func FormatEnabled(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return text.FgHiBlack.Sprint("disabled")
}

// FormatExpiry formats an expiry as "in X" or "expired X ago".
func FormatExpiry(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return "never"
	}
	remaining := expiresAt.Sub(now)
	if remaining > 0 {
		return "in " + FormatDuration(remaining)
	}
	return text.FgYellow.Sprintf("expired %s ago", FormatDuration(-remaining))
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	switch {
	case d < 0:
		return "expired"
	case d < time.Minute:
		return "< 1 minute"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
