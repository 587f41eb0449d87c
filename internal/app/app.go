// Package app wires the SocialBoost runtime together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/celerix-dev/socialboost-store/internal/auth"
	"github.com/celerix-dev/socialboost-store/internal/config"
	"github.com/celerix-dev/socialboost-store/internal/dataservice"
	"github.com/celerix-dev/socialboost-store/internal/docstore"
	"github.com/celerix-dev/socialboost-store/internal/logger"
	"github.com/celerix-dev/socialboost-store/internal/metrics"
	"github.com/celerix-dev/socialboost-store/internal/mirror"
	"github.com/celerix-dev/socialboost-store/internal/notify"
	"github.com/celerix-dev/socialboost-store/internal/session"
	"github.com/celerix-dev/socialboost-store/internal/vault"
	"github.com/celerix-dev/socialboost-store/pkg/engine"
	"github.com/celerix-dev/socialboost-store/pkg/sdk"
	"go.uber.org/zap"
)

// openPostgres connects and creates the documents table.
var openPostgres = docstore.OpenPostgres

// tokenSalt scopes the OAuth token key derived from the session passphrase.
var tokenSalt = []byte("socialboost/oauth-tokens")

// Runtime is everything a boostctl command needs.
type Runtime struct {
	Config   *config.Config
	Log      *zap.Logger
	Metrics  *metrics.Metrics
	Local    sdk.LocalStore
	Remote   sdk.DocumentStore // nil when running local-only
	Notifier sdk.Notifier      // nil when notifications are off
	Sessions *session.FileSource
	Data     *dataservice.Service
	Auth     *auth.Service

	closers []func() error
}

// Open builds a Runtime from cfg. Close releases everything it opened.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Runtime, error) {
	log = logger.OrNop(log)
	rt := &Runtime{Config: cfg, Log: log, Metrics: metrics.New(false)}
	if err := rt.open(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context) (err error) {
	cfg, log := rt.Config, rt.Log

	if rt.Local, err = OpenLocal(ctx, cfg.Local); err != nil {
		return err
	}
	rt.closers = append(rt.closers, rt.Local.Close)

	remote, closeRemote, err := OpenRemote(ctx, cfg.Remote)
	if err != nil {
		return err
	}
	rt.Remote = remote
	if closeRemote != nil {
		rt.closers = append(rt.closers, closeRemote)
	}

	if rt.Notifier, err = openNotifier(ctx, cfg.Notify, log, rt.Metrics); err != nil {
		return err
	}
	if rt.Notifier != nil {
		rt.closers = append(rt.closers, rt.Notifier.Close)
	}

	opts := []dataservice.Option{
		dataservice.WithLogger(log),
		dataservice.WithMetrics(rt.Metrics),
		dataservice.WithNotifier(rt.Notifier),
	}
	if cfg.Session.Passphrase != "" {
		key, err := vault.KeyFromPassphrase(cfg.Session.Passphrase, tokenSalt)
		if err != nil {
			return err
		}
		opts = append(opts, dataservice.WithTokenKey(key))
	}
	mir := mirror.New(rt.Local, rt.Remote, log, rt.Metrics)
	rt.Data = dataservice.New(rt.Local, mir, opts...)

	follow, stop := context.WithCancel(context.Background())
	unfollow := rt.Data.FollowRemote(follow)
	rt.closers = append(rt.closers, func() error {
		unfollow()
		stop()
		return nil
	})

	secret, err := signingSecret(cfg.Session)
	if err != nil {
		return err
	}
	rt.Sessions = session.NewFileSource(cfg.Session.File, cfg.Session.Passphrase)
	rt.Auth = auth.New(rt.Data, session.NewIssuer(secret, cfg.Session.TTL), rt.Sessions, log)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// OpenLocal opens the local store selected by cfg at the current schema.
func OpenLocal(ctx context.Context, cfg config.LocalConfig) (sdk.LocalStore, error) {
	switch cfg.Driver {
	case "sqlite":
		return engine.OpenSQLite(ctx, filepath.Join(cfg.DataDir, "socialboost.db"), engine.DefaultSchema())
	case "file", "":
		p, err := engine.NewPersistence(filepath.Join(cfg.DataDir, "store"))
		if err != nil {
			return nil, err
		}
		return engine.Open(engine.DefaultSchema(), p)
	default:
		return nil, fmt.Errorf("unknown local driver %q", cfg.Driver)
	}
}

// OpenRemote connects to the remote document store. The "none" backend
// returns a nil store and runs everything local-only.
func OpenRemote(ctx context.Context, cfg config.RemoteConfig) (sdk.DocumentStore, func() error, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil, nil
	case "http":
		opts := []sdk.ClientOption{sdk.WithToken(cfg.Token)}
		if cfg.Insecure {
			opts = append(opts, sdk.WithInsecureTLS())
		}
		return sdk.NewClient(cfg.URL, opts...), nil, nil
	case "redis":
		r, err := docstore.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "postgres":
		p, err := openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
	}
}

// OpenServerStore opens the backend boostd serves.
func OpenServerStore(ctx context.Context, cfg config.ServerConfig) (sdk.DocumentStore, func() error, error) {
	switch cfg.Backend {
	case "memory", "":
		return docstore.NewMemory(), nil, nil
	case "redis":
		r, err := docstore.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "postgres":
		p, err := openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown server backend %q", cfg.Backend)
	}
}

// openNotifier joins the process-wide hub for the hub backend, so every
// Runtime in the process hears the others. Redis reaches other processes.
func openNotifier(ctx context.Context, cfg config.NotifyConfig, log *zap.Logger, m *metrics.Metrics) (sdk.Notifier, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "redis":
		return notify.OpenRedis(ctx, cfg.RedisURL, cfg.Channel, log, m)
	case "hub", "":
		return notify.Shared().JoinWith(cfg.Channel, log, m), nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
}

// signingSecret returns the configured secret, or one generated and kept
// next to the session file.
func signingSecret(cfg config.SessionConfig) ([]byte, error) {
	if cfg.Secret != "" {
		return []byte(cfg.Secret), nil
	}
	return session.LoadOrCreateSecret(filepath.Join(filepath.Dir(cfg.File), "session.key"))
}
