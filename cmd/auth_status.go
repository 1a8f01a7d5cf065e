package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"tsapi/pkg/auth"
)

func newAuthStatusCmd(opts *authOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session state",
		Long: `Show the stored session: its state, when the access token expires and
whether it can be refreshed. No request is sent to TradeStation.

Examples:
  tsapi auth status                    # Table output
  tsapi auth status -o json            # Machine-readable output`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.globalOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			status := a.session().Status()
			switch output {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			case "table", "":
				renderStatus(cmd, a, status, time.Now())
				return nil
			default:
				return fmt.Errorf("unsupported output format %q: expected table or json", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or json")
	return cmd
}

func renderStatus(cmd *cobra.Command, a *app, status auth.Status, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)

	t.AppendRow(table.Row{text.FgHiCyan.Sprint("User"), a.cfg.StoreKey()})
	t.AppendRow(table.Row{text.FgHiCyan.Sprint("Trading mode"), a.client.TradingMode()})
	t.AppendRow(table.Row{text.FgHiCyan.Sprint("State"), formatState(status.State)})

	if status.HasAccessToken {
		expiry := formatExpiry(status.ExpiresAt, now)
		if !status.ExpiresAt.IsZero() && !status.ExpiresAt.After(now) {
			expiry = text.FgYellow.Sprint(expiry)
		}
		t.AppendRow(table.Row{text.FgHiCyan.Sprint("Expires"), expiry})
	}
	if status.HasRefreshToken {
		t.AppendRow(table.Row{text.FgHiCyan.Sprint("Refresh"), text.FgGreen.Sprint("Available")})
	} else {
		t.AppendRow(table.Row{text.FgHiCyan.Sprint("Refresh"), text.FgYellow.Sprint("Not available (login required on expiry)")})
	}
	if status.Scope != "" {
		t.AppendRow(table.Row{text.FgHiCyan.Sprint("Scope"), status.Scope})
	}
	if status.Error != "" {
		t.AppendRow(table.Row{text.FgHiCyan.Sprint("Last error"), text.FgRed.Sprint(status.Error)})
	}
	if status.StoreError != "" {
		t.AppendRow(table.Row{text.FgHiCyan.Sprint("Token store"), text.FgRed.Sprint(status.StoreError)})
	}
	t.Render()

	switch status.State {
	case auth.StateUnauthenticated.String(), auth.StateExpired.String(), auth.StateFailed.String():
		fmt.Fprintln(cmd.OutOrStdout(), "Run: tsapi auth login")
	}
}

func formatState(state string) string {
	switch state {
	case auth.StateAuthenticated.String():
		return text.FgGreen.Sprint("Authenticated")
	case auth.StateUnauthenticated.String():
		return text.FgYellow.Sprint("Not authenticated")
	case auth.StateExpired.String():
		return text.FgYellow.Sprint("Expired")
	case auth.StateFailed.String():
		return text.FgRed.Sprint("Failed")
	default:
		return state
	}
}
