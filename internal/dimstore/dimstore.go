// Package dimstore is the persistent implementation of
// monitor.DimensionStore (SPEC_FULL.md §D.1): sqlite-backed idempotent
// upserts for the app/window/url identity dimensions, keyed so a given
// hash tuple always resolves to the same id across restarts.
package dimstore

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/littlebro/lb3/internal/ids"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store owns the sqlite connection backing the dimension tables
// (storage.sqlite_path, spec §6).
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at dsn and applies
// any pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("dimstore: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("dimstore: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("dimstore: enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dimstore: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// UpsertApp resolves exePathHash to a stable app id, minting one on first
// sight. An empty exePathHash (hashing disabled, or no path known) mints
// a fresh id each call rather than colliding every no-path app into one
// row.
func (s *Store) UpsertApp(exePathHash, exeName string) (string, error) {
	if exePathHash == "" {
		return ids.New(), nil
	}

	var id string
	err := s.db.QueryRow(`SELECT id FROM apps WHERE exe_path_hash = ?`, exePathHash).Scan(&id)
	if err == nil {
		if _, err := s.db.Exec(`UPDATE apps SET last_seen_utc = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
			return "", fmt.Errorf("dimstore: bump app last_seen_utc: %w", err)
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("dimstore: lookup app: %w", err)
	}

	id = ids.New()
	if _, err := s.db.Exec(`INSERT INTO apps (id, exe_path_hash, exe_name) VALUES (?, ?, ?)
		ON CONFLICT(exe_path_hash) DO NOTHING`, id, exePathHash, exeName); err != nil {
		return "", fmt.Errorf("dimstore: insert app: %w", err)
	}
	if err := s.db.QueryRow(`SELECT id FROM apps WHERE exe_path_hash = ?`, exePathHash).Scan(&id); err != nil {
		return "", fmt.Errorf("dimstore: reselect app: %w", err)
	}
	return id, nil
}

// UpsertWindow resolves (appID, titleHash) to a stable window id.
func (s *Store) UpsertWindow(appID, titleHash string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM windows WHERE app_id = ? AND title_hash = ?`, appID, titleHash).Scan(&id)
	if err == nil {
		if _, err := s.db.Exec(`UPDATE windows SET last_seen_utc = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
			return "", fmt.Errorf("dimstore: bump window last_seen_utc: %w", err)
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("dimstore: lookup window: %w", err)
	}

	id = ids.New()
	if _, err := s.db.Exec(`INSERT INTO windows (id, app_id, title_hash) VALUES (?, ?, ?)
		ON CONFLICT(app_id, title_hash) DO NOTHING`, id, appID, titleHash); err != nil {
		return "", fmt.Errorf("dimstore: insert window: %w", err)
	}
	if err := s.db.QueryRow(`SELECT id FROM windows WHERE app_id = ? AND title_hash = ?`, appID, titleHash).Scan(&id); err != nil {
		return "", fmt.Errorf("dimstore: reselect window: %w", err)
	}
	return id, nil
}

// UpsertURL resolves urlHash to a stable url id, recording domainHash
// alongside it for later per-domain aggregation.
func (s *Store) UpsertURL(urlHash, domainHash string) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM urls WHERE url_hash = ?`, urlHash).Scan(&id)
	if err == nil {
		if _, err := s.db.Exec(`UPDATE urls SET last_seen_utc = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
			return "", fmt.Errorf("dimstore: bump url last_seen_utc: %w", err)
		}
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("dimstore: lookup url: %w", err)
	}

	id = ids.New()
	if _, err := s.db.Exec(`INSERT INTO urls (id, url_hash, domain_hash) VALUES (?, ?, ?)
		ON CONFLICT(url_hash) DO NOTHING`, id, urlHash, domainHash); err != nil {
		return "", fmt.Errorf("dimstore: insert url: %w", err)
	}
	if err := s.db.QueryRow(`SELECT id FROM urls WHERE url_hash = ?`, urlHash).Scan(&id); err != nil {
		return "", fmt.Errorf("dimstore: reselect url: %w", err)
	}
	return id, nil
}
