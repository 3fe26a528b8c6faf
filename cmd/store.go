package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketmind/internal/aggregate"
	"github.com/sells-group/marketmind/internal/collect"
	"github.com/sells-group/marketmind/internal/config"
	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/store"
)

// sqliteFile is the database name used when store.database_url is unset.
const sqliteFile = "marketmind.db"

// initStore opens the configured record store and applies its schema.
func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			if err := os.MkdirAll(sc.Dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "create store dir %s", sc.Dir)
			}
			dsn = filepath.Join(sc.Dir, sqliteFile)
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, sc.DatabaseURL, sc.Pool())
	case "file":
		st = store.NewFile(sc.Dir)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newRunner wires an aggregator and a collect runner from cfg. st and obs may be nil.
func newRunner(c *config.Config, st store.Store, obs collect.Observer) (*collect.Runner, error) {
	aggCfg, err := c.AggregateConfig()
	if err != nil {
		return nil, err
	}
	agg, err := aggregate.New(aggCfg)
	if err != nil {
		return nil, eris.Wrap(err, "create aggregator")
	}

	opts := c.CollectOptions()
	opts.Store = st
	opts.Observer = obs
	return collect.NewRunner(agg, opts), nil
}

// collaborators reads source documents over HTTP when collect.base_url is
// set, otherwise from collect.data_dir.
func collaborators(cc config.CollectConfig, sources []model.Source) []collect.Collaborator {
	if cc.BaseURL != "" {
		return collect.HTTPCollaborators(cc.BaseURL, sources, time.Duration(cc.FetchTimeoutSecs)*time.Second)
	}
	return collect.FileCollaborators(cc.DataDir, sources)
}
