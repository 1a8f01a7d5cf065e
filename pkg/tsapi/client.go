// Package tsapi is the entry point for applications talking to the brokerage
// API. It wires a credential source and a token store into an auth.Session
// and a dispatch.Dispatcher, and exposes the account endpoints as raw JSON.
package tsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"tsapi/pkg/apierror"
	"tsapi/pkg/auth"
	"tsapi/pkg/dispatch"
)

// MaxAccountKeys is the most account keys one balances or positions call
// accepts.
const MaxAccountKeys = 25

// ErrInvalidArgument is wrapped by validation failures that never reach the API.
var ErrInvalidArgument = errors.New("invalid argument")

// Client is a configured session plus dispatcher.
type Client struct {
	mode       TradingMode
	session    *auth.Session
	dispatcher *dispatch.Dispatcher
}

// New creates a client and restores any persisted session from the store.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Credentials == nil {
		return nil, errors.New("credential source is required")
	}
	if opts.Store == nil {
		return nil, errors.New("token store is required")
	}

	authCfg := opts.Auth
	authCfg.UserID = opts.UserID
	authCfg.Recorder = opts.Recorder

	session, err := auth.NewSession(ctx, authCfg, opts.Credentials, opts.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	dispCfg := opts.Dispatch
	if dispCfg.BaseURL == "" {
		dispCfg.BaseURL = opts.TradingMode.BaseURL()
	}
	dispCfg.Recorder = opts.Recorder

	dispatcher, err := dispatch.New(session, dispCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	return &Client{mode: opts.TradingMode, session: session, dispatcher: dispatcher}, nil
}

// TradingMode returns the mode the client was created with.
func (c *Client) TradingMode() TradingMode {
	return c.mode
}

// Session returns the client's OAuth session.
func (c *Client) Session() *auth.Session {
	return c.session
}

// Dispatcher returns the client's dispatcher for endpoints not wrapped here.
func (c *Client) Dispatcher() *dispatch.Dispatcher {
	return c.dispatcher
}

// Accounts lists the brokerage accounts of the authenticated user.
func (c *Client) Accounts(ctx context.Context) (json.RawMessage, error) {
	return c.getJSON(ctx, dispatch.Get("/brokerage/accounts", nil))
}

// Balances returns balances for up to MaxAccountKeys accounts.
func (c *Client) Balances(ctx context.Context, accountKeys ...string) (json.RawMessage, error) {
	keys, err := joinAccountKeys(accountKeys)
	if err != nil {
		return nil, err
	}
	return c.getJSON(ctx, dispatch.Get("/brokerage/accounts/"+keys+"/balances", nil))
}

// Positions returns positions for up to MaxAccountKeys accounts, optionally
// filtered to the given symbols.
func (c *Client) Positions(ctx context.Context, accountKeys []string, symbols ...string) (json.RawMessage, error) {
	keys, err := joinAccountKeys(accountKeys)
	if err != nil {
		return nil, err
	}

	var query url.Values
	if len(symbols) > 0 {
		filters := make([]string, 0, len(symbols))
		for _, s := range symbols {
			s = strings.TrimSpace(s)
			if s == "" {
				return nil, apierror.New(apierror.KindRequestRejected, apierror.StepDispatch,
					fmt.Errorf("%w: empty symbol in filter", ErrInvalidArgument))
			}
			filters = append(filters, fmt.Sprintf("Symbol eq '%s'", strings.ReplaceAll(s, "'", "''")))
		}
		query = url.Values{"$filter": {strings.Join(filters, " or ")}}
	}

	return c.getJSON(ctx, dispatch.Get("/brokerage/accounts/"+keys+"/positions", query))
}

func (c *Client) getJSON(ctx context.Context, req dispatch.Request) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.dispatcher.SendJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func joinAccountKeys(keys []string) (string, error) {
	if len(keys) == 0 {
		return "", apierror.New(apierror.KindRequestRejected, apierror.StepDispatch,
			fmt.Errorf("%w: at least one account key is required", ErrInvalidArgument))
	}
	if len(keys) > MaxAccountKeys {
		return "", apierror.New(apierror.KindRequestRejected, apierror.StepDispatch,
			fmt.Errorf("%w: at most %d account keys are allowed, got %d", ErrInvalidArgument, MaxAccountKeys, len(keys)))
	}
	escaped := make([]string, len(keys))
	for i, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			return "", apierror.New(apierror.KindRequestRejected, apierror.StepDispatch,
				fmt.Errorf("%w: empty account key", ErrInvalidArgument))
		}
		escaped[i] = url.PathEscape(k)
	}
	return strings.Join(escaped, ","), nil
}
