// Package storedb opens sqlite-backed metadata stores and applies
// ordered schema migrations. Each consumer passes a module name so
// several subsystems can share one migration table format without
// clashing versions.
package storedb

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AbhiTheModder/r2web/internal/errx"
)

// Migration is one schema step. Versions must be unique per module and
// are applied in ascending order.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// OpenOptions configures Open.
type OpenOptions struct {
	// Path is the sqlite database file. Parent directories are created.
	Path string
	// Module scopes recorded migrations (e.g. "modules").
	Module string
	// Migrations are applied in order on every open.
	Migrations []Migration
}

// Open opens (creating if needed) the database at opts.Path and brings
// its schema up to date.
func Open(opts OpenOptions) (*sql.DB, error) {
	if opts.Path == "" {
		return nil, errx.With(ErrOpenStore, ": path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, errx.Wrap(ErrOpenStore, err)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, errx.Wrap(ErrOpenStore, err)
	}
	// Single writer; serialize access instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errx.Wrap(ErrOpenStore, err)
		}
	}

	if err := migrate(db, opts.Module, opts.Migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB, module string, migrations []Migration) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  module TEXT NOT NULL,
  version INTEGER NOT NULL,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL,
  PRIMARY KEY (module, version)
)`)
	if err != nil {
		return errx.Wrap(ErrMigrate, err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM schema_migrations WHERE module = ? AND version = ?`,
			module, m.Version,
		).Scan(&count)
		if err != nil {
			return errx.Wrap(ErrMigrate, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return errx.Wrap(ErrMigrate, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return errx.With(ErrMigrate, " %q (version %d): %w", m.Name, m.Version, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (module, version, name, applied_at) VALUES (?, ?, ?, ?)`,
			module, m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			tx.Rollback()
			return errx.Wrap(ErrMigrate, err)
		}
		if err := tx.Commit(); err != nil {
			return errx.Wrap(ErrMigrate, err)
		}
	}
	return nil
}
