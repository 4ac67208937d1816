package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"dukcapil/internal/contentstore/core"
	id "dukcapil/pkg/domain"
	"dukcapil/pkg/platform/sentinel"
)

// Store persists blobs in a single SQLite table keyed by ContentID.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path. ":memory:" is accepted for tests.
func New(path string) (*Store, error) {
	if path == "" {
		path = "dukcapil-blobs.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		cid TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create blobs table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverSQLite }

func (s *Store) Put(ctx context.Context, data []byte) (id.ContentID, error) {
	cid := core.ComputeID(data)
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO blobs (cid, data) VALUES (?, ?)`, string(cid), data); err != nil {
		return "", fmt.Errorf("insert blob: %w", err)
	}
	return cid, nil
}

func (s *Store) Get(ctx context.Context, cid id.ContentID) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE cid = ?`, string(cid)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blob %s: %w", cid, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select blob: %w", err)
	}
	return data, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
