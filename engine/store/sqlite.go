package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) a SQLite database at path. The path
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string, banks *domain.Registry) (*SQL, error) {
	const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	dsn := "file::memory:?" + pragmas
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
		dsn = "file:" + path + "?" + pragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)
	s, err := newSQL(ctx, db, dialect{name: "sqlite"}, banks)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
