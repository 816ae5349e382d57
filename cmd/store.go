package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cdm-builder/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.StoreURL()
		if dsn == "" {
			dsn = "cdm-runs.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.StoreURL(), &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens the run store and brings its tables up to date.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// cdmPool connects to the database holding the raw input, the vocabulary
// and the CDM output.
func cdmPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.CDM.DatabaseURL == "" {
		return nil, eris.New("cdm: no database_url configured (set cdm.database_url or CDM_CDM_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.CDM.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "cdm: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "cdm: ping database")
	}

	zap.L().Debug("connected to cdm database")
	return pool, nil
}
