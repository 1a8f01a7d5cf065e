package cmd

import (
	"context"
	"fmt"

	"tsapi/internal/config"
	"tsapi/pkg/audit"
	"tsapi/pkg/auth"
	"tsapi/pkg/credentials"
	"tsapi/pkg/dispatch"
	"tsapi/pkg/logging"
	"tsapi/pkg/tokenstore"
	"tsapi/pkg/tsapi"
)

// app is everything a command needs, assembled from config.yaml and flags.
type app struct {
	cfg    config.Config
	source credentials.Source
	client *tsapi.Client

	closers []func() error
}

// loadConfig resolves the configuration directory and applies flag overrides.
func loadConfig(opts *globalOptions) (config.Config, error) {
	dir := opts.configPath
	if dir == "" {
		var err error
		dir, err = config.DefaultConfigPath()
		if err != nil {
			return config.Config{}, err
		}
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return config.Config{}, err
	}
	if opts.userID != "" {
		cfg.UserID = opts.userID
	}
	if opts.live {
		cfg.TradingMode = tsapi.Live.String()
	}
	return cfg, nil
}

// newApp builds the credential source, token store, audit log and client.
// Callers must Close the returned app.
func newApp(ctx context.Context, opts *globalOptions) (_ *app, err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	mode, err := tsapi.ParseTradingMode(cfg.TradingMode)
	if err != nil {
		return nil, err
	}

	a.source = a.newSource(ctx)

	store, err := a.newStore(ctx)
	if err != nil {
		return nil, err
	}

	var recorder audit.Recorder
	if !cfg.Audit.Disabled {
		log, err := audit.NewLog(cfg.AuditDir())
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		a.closers = append(a.closers, log.Close)
		recorder = log
	}

	a.client, err = tsapi.New(ctx, tsapi.Options{
		TradingMode: mode,
		UserID:      cfg.UserID,
		Credentials: a.source,
		Store:       store,
		Recorder:    recorder,
		Auth: auth.Config{
			Endpoints: auth.Endpoints{
				AuthURL:  cfg.Auth.AuthURL,
				TokenURL: cfg.Auth.TokenURL,
				Audience: cfg.Auth.Audience,
			},
			Scopes:         cfg.Auth.Scopes,
			SafetyMargin:   cfg.Auth.SafetyMargin,
			RefreshTimeout: cfg.Auth.RefreshTimeout,
		},
		Dispatch: dispatch.Config{
			BaseURL:        cfg.Dispatch.BaseURL,
			MaxAttempts:    cfg.Dispatch.MaxAttempts,
			AttemptTimeout: cfg.Dispatch.Timeout,
			BackoffMin:     cfg.Dispatch.BackoffMin,
			BackoffMax:     cfg.Dispatch.BackoffMax,
			Concurrency:    cfg.Dispatch.Concurrency,
		},
	})
	if err != nil {
		return nil, err
	}

	logging.Debug("CLI", "Session for %s restored in state %s (%s)",
		cfg.StoreKey(), a.client.Session().State(), mode)
	return a, nil
}

func (a *app) newSource(ctx context.Context) credentials.Source {
	if a.cfg.Credentials.Source == config.CredentialSourceEnv {
		return credentials.NewEnvSource(a.cfg.Credentials.EnvPrefix, a.cfg.EnvFiles()...)
	}

	fs := credentials.NewFileSource(a.cfg.CredentialsPath())
	if a.cfg.Credentials.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := fs.Watch(watchCtx); err != nil {
				logging.Warn("CLI", "Credential file watch stopped: %v", err)
			}
		}()
		a.closers = append(a.closers, func() error {
			cancel()
			<-done
			return nil
		})
	}
	return fs
}

func (a *app) newStore(ctx context.Context) (tokenstore.Store, error) {
	switch a.cfg.TokenStore.Backend {
	case config.TokenBackendMemory:
		return tokenstore.NewMemoryStore(), nil

	case config.TokenBackendPostgres:
		store, err := tokenstore.OpenPostgres(ctx, a.cfg.TokenStore.DSN, a.cfg.TokenStore.Table, a.cfg.StoreKey())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return tokenstore.NewFileStore(a.cfg.TokenPath())
	}
}

// Close releases the store, the audit log and the credential watcher.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Warn("CLI", "Cleanup failed: %v", err)
		}
	}
	a.closers = nil
}

func (a *app) session() *auth.Session {
	return a.client.Session()
}
