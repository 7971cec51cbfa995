package store

import (
	"context"
	"fmt"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQL)(nil)
)

// Open builds the backend named by driver: "memory", "sqlite" or "postgres".
// dsn is a file path for sqlite and a connection string for postgres.
func Open(ctx context.Context, driver, dsn string, banks *domain.Registry) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(banks), nil
	case "sqlite":
		if dsn == "" {
			dsn = ":memory:"
		}
		return OpenSQLite(ctx, dsn, banks)
	case "postgres":
		return OpenPostgres(ctx, dsn, banks)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
