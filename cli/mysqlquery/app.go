package main

import (
	"errors"
	"fmt"

	"github.com/kaz/mysqlquery/internal/config"
	"github.com/kaz/mysqlquery/internal/event"
	"github.com/kaz/mysqlquery/internal/history"
	"github.com/kaz/mysqlquery/internal/logger"
	"github.com/kaz/mysqlquery/internal/pool"
	"github.com/kaz/mysqlquery/internal/profile"
	"github.com/kaz/mysqlquery/internal/query"
	"github.com/kaz/mysqlquery/internal/tool"
)

// app holds the long-lived components shared by every transport
type app struct {
	log      *logger.Logger
	registry *pool.Registry
	profiles *profile.Store
	history  *history.Store
	hub      *event.Hub
	executor *query.Executor
	catalog  *query.Catalog
	adapter  *tool.Adapter
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

// newApp wires the components. withHistory is false for one-shot commands
// that should not hold the history file lock.
func newApp(cfg *config.Config, withHistory bool) (*app, error) {
	l, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{
		log:      l,
		registry: pool.NewRegistry(cfg.Pool.Options(), l.Logger),
		profiles: profile.NewStore(l.Logger),
		hub:      event.NewHub(l.Logger),
	}

	for _, p := range cfg.Connections {
		if err := a.profiles.Register(p); err != nil {
			return nil, fmt.Errorf("invalid connection %q: %w", p.Name, err)
		}
	}
	if n := a.profiles.LoadFromEnv(); n > 0 {
		l.Info().Int("count", n).Msg("loaded connection profiles from environment")
	}

	opts := []query.Option{
		query.WithSnapshot(cfg.Query.Snapshot),
		query.WithMaxPageSize(cfg.Query.MaxPageSize),
		query.WithObserver(a.hub),
	}
	if withHistory {
		a.history, err = history.Open(cfg.History.Path, cfg.History.MaxEntries, l.Logger)
		switch {
		case errors.Is(err, history.ErrDisabled):
			l.Info().Msg("query history disabled")
		case err != nil:
			return nil, err
		default:
			opts = append(opts, query.WithObserver(a.history))
		}
	}

	a.executor = query.NewExecutor(a.registry, l.Logger, opts...)
	a.catalog = query.NewCatalog(a.registry, l.Logger)
	a.adapter = tool.NewAdapter(a.executor, a.profiles, l.Logger)
	return a, nil
}

func (a *app) Close() error {
	a.hub.Shutdown()
	err := errors.Join(a.registry.Close(), a.history.Close())
	return errors.Join(err, a.log.Close())
}
