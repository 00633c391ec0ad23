package wasmbin

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AbhiTheModder/r2web/internal/errx"
	"github.com/AbhiTheModder/r2web/pkg/storedb"
)

// Store is the persistent module cache: blob files on disk plus a
// sqlite metadata table. A metadata row exists only after its blob is
// fully written, so the cache never exposes a partial entry.
type Store struct {
	db  *sql.DB
	dir string
}

// Entry describes one cached module version.
type Entry struct {
	Version   string    `json:"version"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

var storeMigrations = []storedb.Migration{
	{
		Version: 1,
		Name:    "create modules",
		SQL: `
CREATE TABLE modules (
  version TEXT PRIMARY KEY,
  size INTEGER NOT NULL,
  sha256 TEXT NOT NULL,
  source TEXT NOT NULL,
  created_at TEXT NOT NULL
)`,
	},
}

// OpenStore opens (creating if needed) the cache rooted at dir.
func OpenStore(dir string) (*Store, error) {
	db, err := storedb.Open(storedb.OpenOptions{
		Path:       filepath.Join(dir, "modules.db"),
		Module:     "modules",
		Migrations: storeMigrations,
	})
	if err != nil {
		return nil, errx.Wrap(ErrOpenStore, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "modules"), 0755); err != nil {
		db.Close()
		return nil, errx.Wrap(ErrOpenStore, err)
	}
	return &Store{db: db, dir: dir}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) blobPath(version string) string {
	return filepath.Join(s.dir, "modules", version+".wasm")
}

func validVersion(version string) bool {
	if version == "" || version == "." || version == ".." {
		return false
	}
	return !strings.ContainsAny(version, `/\`)
}

// Get returns the full byte content for version, or ErrModuleNotCached.
func (s *Store) Get(version string) ([]byte, error) {
	if !validVersion(version) {
		return nil, errx.With(ErrModuleNotCached, ": %q", version)
	}
	var size int64
	err := s.db.QueryRow(`SELECT size FROM modules WHERE version = ?`, version).Scan(&size)
	if err == sql.ErrNoRows {
		return nil, errx.With(ErrModuleNotCached, ": %q", version)
	}
	if err != nil {
		return nil, errx.Wrap(ErrReadModule, err)
	}

	data, err := os.ReadFile(s.blobPath(version))
	if os.IsNotExist(err) {
		// Blob went missing out from under the metadata row. Drop the
		// row so the next load goes back to the network.
		s.db.Exec(`DELETE FROM modules WHERE version = ?`, version)
		return nil, errx.With(ErrModuleNotCached, ": %q", version)
	}
	if err != nil {
		return nil, errx.Wrap(ErrReadModule, err)
	}
	return data, nil
}

// Put stores data under version. The blob is written to a temp file and
// renamed into place before the metadata row appears.
func (s *Store) Put(version string, data []byte, source string) error {
	if !validVersion(version) {
		return errx.With(ErrWriteModule, ": invalid version %q", version)
	}
	dest := s.blobPath(version)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errx.Wrap(ErrWriteModule, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return errx.Wrap(ErrWriteModule, err)
	}

	sum := sha256.Sum256(data)
	_, err := s.db.Exec(`
INSERT INTO modules (version, size, sha256, source, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (version) DO UPDATE SET
  size = excluded.size,
  sha256 = excluded.sha256,
  source = excluded.source,
  created_at = excluded.created_at`,
		version, int64(len(data)), hex.EncodeToString(sum[:]), source,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		os.Remove(dest)
		return errx.Wrap(ErrWriteModule, err)
	}
	return nil
}

// Delete removes version from the cache. Deleting an absent version is
// not an error.
func (s *Store) Delete(version string) error {
	if !validVersion(version) {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM modules WHERE version = ?`, version); err != nil {
		return errx.Wrap(ErrDeleteModule, err)
	}
	if err := os.Remove(s.blobPath(version)); err != nil && !os.IsNotExist(err) {
		return errx.Wrap(ErrDeleteModule, err)
	}
	return nil
}

// List returns all cached entries ordered by version.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT version, size, sha256, source, created_at FROM modules ORDER BY version`)
	if err != nil {
		return nil, errx.Wrap(ErrListModules, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.Version, &e.Size, &e.SHA256, &e.Source, &createdAt); err != nil {
			return nil, errx.Wrap(ErrListModules, err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.Wrap(ErrListModules, err)
	}
	return entries, nil
}
