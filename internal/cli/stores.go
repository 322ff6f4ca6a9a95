package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/config"
	"github.com/roach88/docmerge/internal/connstr"
	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/docstore/mongostore"
	"github.com/roach88/docmerge/internal/journal"
	"github.com/roach88/docmerge/internal/merge"
	"github.com/roach88/docmerge/internal/metrics"
	"github.com/roach88/docmerge/internal/session"
)

// env is what a store-backed command runs with.
type env struct {
	cfg      *config.Config
	url      string
	sessions *session.Registry
	journal  *journal.Journal
	metrics  *metrics.Metrics
}

// openEnv resolves the configuration and opens the journal and metrics
// when configured. Call close when done.
func (o *RootOptions) openEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := o.Config(cmd)
	if err != nil {
		return nil, err
	}
	logger := o.Logger(cmd)

	open := o.OpenStore
	if open == nil {
		open = func(ctx context.Context, url string) (docstore.Conn, error) {
			database := cfg.Mongo.Database
			if database == "" {
				info, err := connstr.ParseProviderModelURL(url)
				if err != nil {
					return nil, fmt.Errorf("no database configured and none in the url: %w", err)
				}
				database = info.Database
			}
			return mongostore.Open(ctx, url, database)
		}
	}
	e := &env{
		cfg:      cfg,
		url:      cfg.Mongo.URL,
		sessions: session.New(cfg.Session.Capacity, cfg.Session.TTL, open, session.WithLogger(logger)),
	}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, journal.WithLogger(logger))
		if err != nil {
			e.sessions.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		e.journal = j
	}
	if cfg.Metrics.Textfile != "" {
		e.metrics = metrics.New()
	}
	return e, nil
}

// store returns the session for the target MongoDB URL.
func (e *env) store(ctx context.Context) (docstore.Store, error) {
	st, err := e.sessions.Get(ctx, e.url)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to store", err)
	}
	return st, nil
}

// observers lists the journal and metrics observers that are enabled.
func (e *env) observers() merge.Observers {
	var obs merge.Observers
	if e.journal != nil {
		obs = append(obs, e.journal)
	}
	if e.metrics != nil {
		obs = append(obs, e.metrics)
	}
	return obs
}

// engineOptions are the engine options shared by store-backed commands.
func (e *env) engineOptions(o *RootOptions, cmd *cobra.Command) ([]merge.Option, error) {
	swap, err := e.cfg.SwapMode()
	if err != nil {
		return nil, err
	}
	opts := []merge.Option{
		merge.WithLogger(o.Logger(cmd)),
		merge.WithSwapMode(swap),
		merge.WithStagingPrefix(e.cfg.Staging.Prefix),
	}
	if obs := e.observers(); len(obs) > 0 {
		opts = append(opts, merge.WithObserver(obs))
	}
	return opts, nil
}

// close flushes metrics and closes the journal and sessions. The first
// failure is returned.
func (e *env) close() error {
	var first error
	if e.metrics != nil {
		if err := e.metrics.WriteTextfile(e.cfg.Metrics.Textfile); err != nil {
			first = fmt.Errorf("write metrics: %w", err)
		}
	}
	if e.journal != nil {
		if err := e.journal.Err(); err != nil && first == nil {
			first = fmt.Errorf("journal write: %w", err)
		}
		if err := e.journal.Close(); err != nil && first == nil {
			first = fmt.Errorf("close journal: %w", err)
		}
	}
	e.sessions.Close()
	return first
}
