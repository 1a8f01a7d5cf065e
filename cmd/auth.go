package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// authOptions are shared by the auth subcommands.
type authOptions struct {
	*globalOptions
	quiet bool
}

// printf prints progress output unless --quiet is set.
func (o *authOptions) printf(cmd *cobra.Command, format string, args ...interface{}) {
	if !o.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

func newAuthCmd(global *globalOptions) *cobra.Command {
	opts := &authOptions{globalOptions: global}

	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the TradeStation session",
		Long: `Manage the OAuth2 session used for API requests.

Examples:
  tsapi auth login                     # Authorize in the browser
  tsapi auth login --manual            # Paste the redirect URL instead
  tsapi auth status                    # Show session state and expiry
  tsapi auth refresh                   # Force a token refresh
  tsapi auth logout                    # Discard the stored session`,
	}
	authCmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")

	authCmd.AddCommand(newAuthLoginCmd(opts))
	authCmd.AddCommand(newAuthStatusCmd(opts))
	authCmd.AddCommand(newAuthRefreshCmd(opts))
	authCmd.AddCommand(newAuthLogoutCmd(opts))
	return authCmd
}

func newAuthRefreshCmd(opts *authOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		Long: `Exchange the stored refresh token for a new access token, even if the
current one is still valid.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.globalOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session().Refresh(cmd.Context()); err != nil {
				return err
			}
			opts.printf(cmd, "%s Token refreshed, expires %s\n",
				text.FgGreen.Sprint("✓"), formatExpiry(a.session().Token().ExpiresAt, time.Now()))
			return nil
		},
	}
}

func newAuthLogoutCmd(opts *authOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored session",
		Long: `Remove the stored tokens. The next API request requires
'tsapi auth login' again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.globalOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.session().Logout(cmd.Context()); err != nil {
				return err
			}
			opts.printf(cmd, "Logged out %s\n", a.cfg.StoreKey())
			return nil
		},
	}
}

// formatExpiry renders t relative to now, e.g. "in 59m" or "3m ago".
func formatExpiry(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := t.Sub(now).Round(time.Second)
	local := t.Local().Format("2006-01-02 15:04:05")
	if d >= 0 {
		return fmt.Sprintf("%s (in %s)", local, d)
	}
	return fmt.Sprintf("%s (%s ago)", local, -d)
}
