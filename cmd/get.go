package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"tsapi/pkg/tsapi"
)

func newGetCmd(global *globalOptions) *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Query brokerage data",
		Long: `Query the brokerage API with the stored session and print the JSON
response. Expired access tokens are refreshed automatically.

Examples:
  tsapi get accounts
  tsapi get balances 11111111 22222222
  tsapi get positions 11111111 --symbol MSFT --symbol AAPL
  tsapi --live get accounts`,
	}

	getCmd.AddCommand(&cobra.Command{
		Use:   "accounts",
		Short: "List the brokerage accounts of the authenticated user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, global, func(ctx context.Context, c *tsapi.Client) (json.RawMessage, error) {
				return c.Accounts(ctx)
			})
		},
	})

	getCmd.AddCommand(&cobra.Command{
		Use:   "balances ACCOUNT...",
		Short: "Show balances for up to 25 accounts",
		Args:  cobra.RangeArgs(1, tsapi.MaxAccountKeys),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, global, func(ctx context.Context, c *tsapi.Client) (json.RawMessage, error) {
				return c.Balances(ctx, args...)
			})
		},
	})

	var symbols []string
	positionsCmd := &cobra.Command{
		Use:   "positions ACCOUNT...",
		Short: "Show positions for up to 25 accounts",
		Args:  cobra.RangeArgs(1, tsapi.MaxAccountKeys),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, global, func(ctx context.Context, c *tsapi.Client) (json.RawMessage, error) {
				return c.Positions(ctx, args, symbols...)
			})
		},
	}
	positionsCmd.Flags().StringSliceVar(&symbols, "symbol", nil, "Only show positions in these symbols (repeatable)")
	getCmd.AddCommand(positionsCmd)

	return getCmd
}

func runGet(cmd *cobra.Command, global *globalOptions, fetch func(context.Context, *tsapi.Client) (json.RawMessage, error)) error {
	a, err := newApp(cmd.Context(), global)
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := fetch(cmd.Context(), a.client)
	if err != nil {
		return err
	}
	return printJSON(cmd, raw)
}

// printJSON pretty-prints raw, falling back to the bytes as received.
func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	buf.WriteByte('\n')
	_, err := fmt.Fprint(cmd.OutOrStdout(), buf.String())
	return err
}
