// Package store provides the persistent local object store for pawsync.
//
// The store is an embedded SQLite database holding one table per object
// store (pets, medications, searches, favorites, pending_sync), each
// keyed by an identifier and carrying the entity as a JSON document plus
// a small set of indexed columns for secondary lookups.
//
// Properties:
//   - Schema is versioned via PRAGMA user_version; opening a database
//     with an older version runs an idempotent upgrade step that creates
//     any missing tables and indexes.
//   - The connection is established lazily on first use and cached for
//     the process lifetime. If a required table is found missing (for
//     example after an external wipe of the database file), the cached
//     connection is invalidated, reopened, and the operation retried
//     once, transparently to the caller.
//   - Every failure is reported as a single *StorageError wrapping the
//     underlying cause; callers never observe partial writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SchemaVersion is the current local schema version. Bump when adding
// object stores or indexes; the upgrade step is idempotent.
const SchemaVersion = 1

// Object store names.
const (
	Pets        = "pets"
	Medications = "medications"
	Searches    = "searches"
	Favorites   = "favorites"
	PendingSync = "pending_sync"
)

// storeDef describes one object store: its key column and the columns
// available to GetAllByIndex. Index columns are populated by callers on
// Put and mirrored from the JSON document.
type storeDef struct {
	key     string
	indexed []string
}

var objectStores = map[string]storeDef{
	Pets:        {key: "id", indexed: []string{"owner_id", "updated_at"}},
	Medications: {key: "id", indexed: []string{"pet_id", "active"}},
	Searches:    {key: "cache_key", indexed: []string{"cached_at", "expires_at"}},
	Favorites:   {key: "id", indexed: []string{"type", "added_at"}},
}

// Store wraps the SQLite connection with lazy opening and transparent
// reopening after an external wipe.
type Store struct {
	path string

	mu   sync.Mutex
	conn *sql.DB
}

// New creates a Store for the database at path. The connection is not
// established until the first operation.
//
// Example:
//
//	st := store.New(filepath.Join(dir, "pawsync.db"))
//	defer st.Close()
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// db returns the cached connection, opening and migrating the database
// on first use.
func (s *Store) db() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return s.conn, nil
	}

	conn, err := open(s.path)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

// invalidate discards the cached connection so the next operation
// reopens the database from scratch.
func (s *Store) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// open establishes the connection and brings the schema up to date.
func open(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// migrate brings the schema to SchemaVersion. The step is idempotent:
// every table and index is created with IF NOT EXISTS, so re-running it
// after a partial upgrade or an external wipe is safe.
func migrate(conn *sql.DB) error {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	if err := initSchema(conn); err != nil {
		return err
	}

	if version != SchemaVersion {
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version=%d", SchemaVersion)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}
	return nil
}

// initSchema creates all object stores and indexes if missing.
func initSchema(conn *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pets (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		owner_id TEXT,
		updated_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_pets_owner ON pets(owner_id);
	CREATE INDEX IF NOT EXISTS idx_pets_updated ON pets(updated_at);

	CREATE TABLE IF NOT EXISTS medications (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		pet_id TEXT,
		active INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_medications_pet ON medications(pet_id);
	CREATE INDEX IF NOT EXISTS idx_medications_active ON medications(active);

	CREATE TABLE IF NOT EXISTS searches (
		cache_key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		cached_at TEXT,
		expires_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_searches_cached ON searches(cached_at);
	CREATE INDEX IF NOT EXISTS idx_searches_expires ON searches(expires_at);

	CREATE TABLE IF NOT EXISTS favorites (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		type TEXT,
		added_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_favorites_type ON favorites(type);
	CREATE INDEX IF NOT EXISTS idx_favorites_added ON favorites(added_at);

	CREATE TABLE IF NOT EXISTS pending_sync (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload TEXT,
		enqueued_at INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		next_attempt_at INTEGER NOT NULL,
		idempotency_key TEXT NOT NULL,
		base_rev INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pending_sync_enqueued ON pending_sync(enqueued_at);
	CREATE INDEX IF NOT EXISTS idx_pending_sync_type ON pending_sync(entity_type);
	CREATE INDEX IF NOT EXISTS idx_pending_sync_status ON pending_sync(status);
	`

	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database connection, checkpointing the WAL first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// isMissingTable reports whether err indicates a required object store
// is absent, e.g. after the database file was wiped externally.
func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// withRetry runs fn against the cached connection, reopening the
// database and retrying once when a required table is missing.
func (s *Store) withRetry(fn func(conn *sql.DB) error) error {
	conn, err := s.db()
	if err != nil {
		return err
	}
	err = fn(conn)
	if isMissingTable(err) {
		s.invalidate()
		conn, rerr := s.db()
		if rerr != nil {
			return rerr
		}
		err = fn(conn)
	}
	return err
}

// def validates the object store name.
func def(storeName string) (storeDef, error) {
	d, ok := objectStores[storeName]
	if !ok {
		return storeDef{}, fmt.Errorf("unknown object store %q", storeName)
	}
	return d, nil
}

// Get returns the stored value for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, storeName, key string) ([]byte, error) {
	d, err := def(storeName)
	if err != nil {
		return nil, &StorageError{Op: "get", Store: storeName, Err: err}
	}

	var data []byte
	err = s.withRetry(func(conn *sql.DB) error {
		query := fmt.Sprintf("SELECT data FROM %s WHERE %s = ?", storeName, d.key)
		return conn.QueryRowContext(ctx, query, key).Scan(&data)
	})
	if err == sql.ErrNoRows {
		return nil, &StorageError{Op: "get", Store: storeName, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Store: storeName, Err: err}
	}
	return data, nil
}

// Put inserts or replaces the value for key. The indices map supplies
// values for the store's indexed columns; unknown columns are rejected.
func (s *Store) Put(ctx context.Context, storeName, key string, value []byte, indices map[string]any) error {
	d, err := def(storeName)
	if err != nil {
		return &StorageError{Op: "put", Store: storeName, Err: err}
	}

	cols := []string{d.key, "data"}
	args := []any{key, string(value)}

	// Deterministic column order keeps the generated SQL stable.
	names := make([]string, 0, len(indices))
	for name := range indices {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !contains(d.indexed, name) {
			return &StorageError{Op: "put", Store: storeName,
				Err: fmt.Errorf("column %q is not indexed on store %q", name, storeName)}
		}
		cols = append(cols, name)
		args = append(args, indices[name])
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		storeName, strings.Join(cols, ", "), placeholders)

	err = s.withRetry(func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return &StorageError{Op: "put", Store: storeName, Err: err}
	}
	return nil
}

// Delete removes the value for key. Deleting an absent key is not an
// error (idempotent).
func (s *Store) Delete(ctx context.Context, storeName, key string) error {
	d, err := def(storeName)
	if err != nil {
		return &StorageError{Op: "delete", Store: storeName, Err: err}
	}

	err = s.withRetry(func(conn *sql.DB) error {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", storeName, d.key)
		_, err := conn.ExecContext(ctx, query, key)
		return err
	})
	if err != nil {
		return &StorageError{Op: "delete", Store: storeName, Err: err}
	}
	return nil
}

// GetAll returns every value in the store, ordered by key.
func (s *Store) GetAll(ctx context.Context, storeName string) ([][]byte, error) {
	d, err := def(storeName)
	if err != nil {
		return nil, &StorageError{Op: "getAll", Store: storeName, Err: err}
	}

	query := fmt.Sprintf("SELECT data FROM %s ORDER BY %s", storeName, d.key)
	return s.queryValues(ctx, "getAll", storeName, query)
}

// GetAllByIndex returns every value whose indexed column equals value,
// ordered by key.
func (s *Store) GetAllByIndex(ctx context.Context, storeName, index string, value any) ([][]byte, error) {
	d, err := def(storeName)
	if err != nil {
		return nil, &StorageError{Op: "getAllByIndex", Store: storeName, Err: err}
	}
	if !contains(d.indexed, index) {
		return nil, &StorageError{Op: "getAllByIndex", Store: storeName,
			Err: fmt.Errorf("column %q is not indexed on store %q", index, storeName)}
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE %s = ? ORDER BY %s", storeName, index, d.key)
	return s.queryValues(ctx, "getAllByIndex", storeName, query, value)
}

// queryValues runs a query returning a single data column.
func (s *Store) queryValues(ctx context.Context, op, storeName, query string, args ...any) ([][]byte, error) {
	var values [][]byte
	err := s.withRetry(func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		values = values[:0]
		for rows.Next() {
			var data []byte
			if err := rows.Scan(&data); err != nil {
				return err
			}
			values = append(values, data)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, &StorageError{Op: op, Store: storeName, Err: err}
	}
	return values, nil
}

// Clear removes every value from the store.
func (s *Store) Clear(ctx context.Context, storeName string) error {
	if _, err := def(storeName); err != nil && storeName != PendingSync {
		return &StorageError{Op: "clear", Store: storeName, Err: err}
	}

	err := s.withRetry(func(conn *sql.DB) error {
		_, err := conn.ExecContext(ctx, "DELETE FROM "+storeName)
		return err
	})
	if err != nil {
		return &StorageError{Op: "clear", Store: storeName, Err: err}
	}
	return nil
}

// Count returns the number of values in the store.
func (s *Store) Count(ctx context.Context, storeName string) (int, error) {
	if _, err := def(storeName); err != nil && storeName != PendingSync {
		return 0, &StorageError{Op: "count", Store: storeName, Err: err}
	}

	var count int
	err := s.withRetry(func(conn *sql.DB) error {
		return conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+storeName).Scan(&count)
	})
	if err != nil {
		return 0, &StorageError{Op: "count", Store: storeName, Err: err}
	}
	return count, nil
}

// Exec runs a write statement against the database with the store's
// lazy-open and reopen-on-wipe behavior. It exists for typed accessors
// (the sync queue) that need SQL beyond the generic contract.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.withRetry(func(conn *sql.DB) error {
		var err error
		res, err = conn.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Query runs a read statement, passing the rows to scan. The scan
// function must fully consume the rows; it may be invoked twice if the
// database had to be reopened.
func (s *Store) Query(ctx context.Context, query string, scan func(*sql.Rows) error, args ...any) error {
	return s.withRetry(func(conn *sql.DB) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if err := scan(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// QueryRow runs a single-row read statement.
func (s *Store) QueryRow(ctx context.Context, query string, dest []any, args ...any) error {
	return s.withRetry(func(conn *sql.DB) error {
		return conn.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
