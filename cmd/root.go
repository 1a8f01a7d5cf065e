package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"tsapi/pkg/apierror"
	"tsapi/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates the session must be re-authorized with `auth login`.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates credentials or the authorization flow failed.
	ExitCodeAuthFailed = 3
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	userID     string
	live       bool
	logLevel   string
}

// rootCmd is the entry point when tsapi is called without subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "tsapi",
		Short: "Authenticate to TradeStation and query brokerage accounts",
		Long: `tsapi manages an OAuth2 session with TradeStation and sends
authenticated requests to the brokerage API.

Run 'tsapi auth login' once to authorize; the session is persisted and
access tokens are refreshed automatically afterwards.`,
		// Errors are reported by Execute with a semantic exit code.
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitForCLI(logging.ParseLevel(opts.logLevel), cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config-path", "", "Configuration directory (default: ~/.config/tsapi)")
	flags.StringVar(&opts.userID, "user-id", "", "User whose session to use (overrides userId in config.yaml)")
	flags.BoolVar(&opts.live, "live", false, "Use the live trading API instead of the simulator")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")

	root.AddCommand(newAuthCmd(opts))
	root.AddCommand(newGetCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code derived from the error.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "tsapi version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error kinds to exit codes for scripting and automation.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	switch apierror.KindOf(err) {
	case apierror.KindReauthorizationRequired:
		return ExitCodeAuthRequired
	case apierror.KindCredentialsUnavailable,
		apierror.KindAuthorizationSetup,
		apierror.KindTokenExchangeFailed:
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}
