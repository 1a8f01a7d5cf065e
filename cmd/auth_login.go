package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"tsapi/internal/callback"
	"tsapi/pkg/apierror"
	"tsapi/pkg/auth"
	"tsapi/pkg/logging"
)

// Replaced in tests.
var (
	openBrowser       = callback.OpenBrowser
	promptRedirectURL = readRedirectURL
)

type loginOptions struct {
	manual    bool
	noBrowser bool
	force     bool
	timeout   time.Duration
}

func newAuthLoginCmd(opts *authOptions) *cobra.Command {
	lo := &loginOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize tsapi with your TradeStation account",
		Long: `Run the OAuth2 authorization code flow.

When the callback domain in your credentials is a localhost URL, tsapi
listens there for the redirect and finishes the login by itself. Otherwise,
or with --manual, paste the URL your browser was redirected to.

Examples:
  tsapi auth login                     # Browser login with local redirect
  tsapi auth login --manual            # Paste the redirect URL
  tsapi auth login --no-browser        # Print the URL instead of opening it
  tsapi auth login --force             # Replace an existing session`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd, opts, lo)
		},
	}

	cmd.Flags().BoolVar(&lo.manual, "manual", false, "Paste the redirect URL instead of listening for it")
	cmd.Flags().BoolVar(&lo.noBrowser, "no-browser", false, "Do not open a browser")
	cmd.Flags().BoolVar(&lo.force, "force", false, "Log out an existing session first")
	cmd.Flags().DurationVar(&lo.timeout, "timeout", callback.DefaultTimeout, "How long to wait for the redirect")
	return cmd
}

func runAuthLogin(cmd *cobra.Command, opts *authOptions, lo *loginOptions) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, opts.globalOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	session := a.session()
	if session.State() == auth.StateAuthenticated {
		if !lo.force {
			opts.printf(cmd, "Already authenticated as %s. Use --force to log in again.\n", a.cfg.StoreKey())
			return nil
		}
		if err := session.Logout(ctx); err != nil {
			return err
		}
	}

	creds, err := a.source.Credentials(ctx)
	if err != nil {
		return apierror.New(apierror.KindCredentialsUnavailable, apierror.StepCredentials, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, lo.timeout)
	defer cancel()

	var srv *callback.Server
	if !lo.manual && callback.IsLoopback(creds.CallbackDomain) {
		srv, err = callback.NewServer(creds.CallbackDomain)
		if err == nil {
			err = srv.Start(waitCtx)
		}
		if err != nil {
			logging.Warn("CLI", "Cannot listen for the redirect, falling back to manual login: %v", err)
			srv = nil
		} else {
			defer srv.Stop()
		}
	}

	authURL, err := session.BeginAuthorization(ctx)
	if err != nil {
		return err
	}

	opts.printf(cmd, "Open this URL to authorize tsapi:\n\n  %s\n\n", authURL)
	if !lo.noBrowser {
		if err := openBrowser(authURL); err != nil {
			logging.Warn("CLI", "Could not open a browser: %v", err)
		}
	}

	var redirect string
	if srv != nil {
		redirect, err = waitForRedirect(waitCtx, cmd, opts, srv, lo.timeout)
	} else {
		redirect, err = promptRedirectURL(cmd)
	}
	if err != nil {
		return err
	}

	if err := session.CompleteAuthorization(ctx, redirect); err != nil {
		return err
	}

	opts.printf(cmd, "%s Logged in as %s (%s), token expires %s\n",
		text.FgGreen.Sprint("✓"), a.cfg.StoreKey(), a.client.TradingMode(),
		formatExpiry(session.Token().ExpiresAt, time.Now()))
	return nil
}

func waitForRedirect(ctx context.Context, cmd *cobra.Command, opts *authOptions, srv *callback.Server, timeout time.Duration) (string, error) {
	var s *spinner.Spinner
	if !opts.quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = " Waiting for authorization in the browser..."
		s.Start()
		defer s.Stop()
	}

	result, err := srv.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apierror.New(apierror.KindTimeout, apierror.StepAuthorize,
				fmt.Errorf("no redirect received within %s", timeout))
		}
		return "", err
	}
	if s != nil && result.IsError() {
		s.FinalMSG = text.FgRed.Sprint("Authorization was denied") + "\n"
	}
	return result.RedirectURL, nil
}

// readRedirectURL prompts for the URL the browser was sent to.
func readRedirectURL(cmd *cobra.Command) (string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "Redirect URL: ",
		Stdin:           io.NopCloser(cmd.InOrStdin()),
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return "", fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return "", errors.New("login cancelled")
		}
		if err != nil {
			return "", fmt.Errorf("readline error: %w", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
}
