package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

// OpenPostgres connects a pgx pool and exposes it through database/sql so the
// SQL store can share its queries with SQLite.
func OpenPostgres(ctx context.Context, connString string, banks *domain.Registry) (*SQL, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	s, err := newSQL(ctx, db, dialect{name: "postgres", dollar: true}, banks)
	if err != nil {
		db.Close()
		pool.Close()
		return nil, err
	}
	s.onClose = pool.Close
	return s, nil
}
