// Package knowledge persists verified fixes keyed by error signature, so
// a failure seen once never needs a fresh candidate again.
package knowledge

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DefaultFileName is the store's on-disk name in the project root. The
// sandbox copier must exclude it so cached fixes never leak into
// verification copies.
const DefaultFileName = ".rustmend_cache.db"

// Store is a durable signature -> solution map backed by SQLite.
// Entries are written only after a verified success, last write wins,
// and nothing ever expires.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open initializes the store at the given path, creating the database
// and schema when absent. An unopenable store is fatal for callers that
// want caching; they bypass construction entirely when caching is off.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}

	const schema = `CREATE TABLE IF NOT EXISTS solutions (
		error_signature TEXT PRIMARY KEY,
		solution_patch  TEXT NOT NULL,
		timestamp       INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create solutions table: %w", err)
	}

	logger.Debug("knowledge store ready", zap.String("path", path))
	return &Store{db: db, path: path, logger: logger}, nil
}

// Path returns the store's on-disk location.
func (s *Store) Path() string {
	return s.path
}

// Lookup returns the stored solution for a signature. The second return
// is false on a miss.
func (s *Store) Lookup(signature string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var patch string
	err := s.db.QueryRow(
		"SELECT solution_patch FROM solutions WHERE error_signature = ?",
		signature,
	).Scan(&patch)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup signature %q: %w", signature, err)
	}
	return patch, true, nil
}

// Store upserts a solution for a signature, overwriting any prior entry.
func (s *Store) Store(signature, solution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"REPLACE INTO solutions (error_signature, solution_patch, timestamp) VALUES (?, ?, ?)",
		signature, solution, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store signature %q: %w", signature, err)
	}
	s.logger.Debug("stored verified solution", zap.String("signature", signature))
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
