// Package db opens the embedded SQLite databases that back the local store
// and the shared-folder replicas.
//
// Both kinds of replica share one schema, managed with goose migrations
// embedded in the binary:
//
//   - documents: tracked entities as JSON, keyed by (collection, id)
//   - deletions: tombstones, keyed the same way
//   - settings:  local key/value settings (unused in shared replicas)
//
// The local database runs in WAL mode for concurrent readers. Shared
// replicas live in a cloud-sync folder and are copied around as single
// files, so they use the rollback journal and are opened with a single
// connection.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Mode selects how a database file is opened.
type Mode int

const (
	// ModeLocal is the per-machine store: WAL journal, pooled connections.
	ModeLocal Mode = iota
	// ModeShared is a replica file inside the sync folder: rollback
	// journal, one connection, nothing left next to the file on close.
	ModeShared
)

// DB wraps a migrated SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
	mode Mode
}

// Open opens (creating if needed) the database at path and applies all
// pending migrations.
//
// The caller MUST call Close() when done.
//
//	database, err := db.Open(ctx, filepath.Join(dataDir, "local.db"), db.ModeLocal)
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(ctx context.Context, path string, mode Mode) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dsn(path, mode))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	switch mode {
	case ModeShared:
		conn.SetMaxOpenConns(1)
	default:
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(4)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	d := &DB{conn: conn, path: path, mode: mode}
	if err := d.migrate(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// dsn builds the connection string. Pragmas are passed in the DSN so that
// every pooled connection gets them, not just the first one.
func dsn(path string, mode Mode) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	if mode == ModeShared {
		q.Add("_pragma", "journal_mode(delete)")
	} else {
		q.Add("_pragma", "journal_mode(wal)")
	}
	q.Set("_txlock", "immediate")
	return "file:" + filepath.ToSlash(path) + "?" + q.Encode()
}

func (d *DB) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, d.conn, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", d.path, err)
	}
	return nil
}

// Conn returns the underlying connection pool.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Path returns the file the database was opened from.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database. Local databases are checkpointed first so the
// WAL does not grow across runs.
func (d *DB) Close() error {
	if d.conn == nil {
		return nil
	}

	if d.mode == ModeLocal {
		// Best effort: a failed checkpoint leaves a valid WAL behind.
		_, _ = d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}

	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	d.conn = nil
	return nil
}
