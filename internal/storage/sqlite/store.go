// Package sqlite implements the identity store on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/steveyegge/mpsync/internal/storage"
	"github.com/steveyegge/mpsync/internal/types"
)

// Store implements storage.IdentityStore using SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
	now    func() time.Time
}

var _ storage.IdentityStore = (*Store)(nil)

// setupWASMCache configures WASM compilation caching to reduce SQLite
// startup time. Falls back to an in-memory cache when the user cache
// directory is unavailable.
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "mpsync", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	return cacheDir
}

func init() {
	_ = setupWASMCache()
}

// New opens (creating if needed) the identity store at path.
// ":memory:" opens a private in-memory database, which is handy in tests.
func New(ctx context.Context, path string) (*Store, error) {
	var connStr string
	isInMemory := path == ":memory:"
	switch {
	case isInMemory:
		connStr = "file::memory:?_pragma=busy_timeout(30000)"
	case strings.HasPrefix(path, "file:"):
		connStr = path
	default:
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=busy_timeout(30000)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Runs are single-threaded; one connection also keeps an in-memory
	// database visible to every query.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if !isInMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{
		db:     db,
		dbPath: path,
		now:    time.Now,
	}, nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database. Calling Close twice is a no-op.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// GetMapping implements storage.IdentityStore.
func (s *Store) GetMapping(ctx context.Context, kind types.EntityKind, sourceKey string) (int64, bool, error) {
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}
	table, err := tableFor(kind)
	if err != nil {
		return 0, false, err
	}

	var targetID int64
	// #nosec G201 - table comes from the fixed mappingTables whitelist
	query := fmt.Sprintf(`SELECT target_id FROM %s WHERE source_key = ?`, table)
	err = s.db.QueryRowContext(ctx, query, sourceKey).Scan(&targetID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapDBErrorf(err, "get %s mapping %q", kind, sourceKey)
	}
	return targetID, true, nil
}

// PutMapping implements storage.IdentityStore.
func (s *Store) PutMapping(ctx context.Context, kind types.EntityKind, sourceKey string, targetID int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	// #nosec G201 - table comes from the fixed mappingTables whitelist
	query := fmt.Sprintf(`
		INSERT INTO %s (source_key, target_id, synced_at) VALUES (?, ?, ?)
		ON CONFLICT (source_key) DO UPDATE SET
			target_id = excluded.target_id,
			synced_at = excluded.synced_at
	`, table)
	_, err = s.db.ExecContext(ctx, query, sourceKey, targetID, storage.FormatTime(s.now()))
	return wrapDBErrorf(err, "put %s mapping %q", kind, sourceKey)
}

// CountMappings implements storage.IdentityStore.
func (s *Store) CountMappings(ctx context.Context, kind types.EntityKind) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	var n int
	// #nosec G201 - table comes from the fixed mappingTables whitelist
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	return n, wrapDBErrorf(err, "count %s mappings", kind)
}
