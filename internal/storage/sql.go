package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax for SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLStore keeps the encoded list in a two-column kv table.
type SQLStore struct {
	db        *sql.DB
	selectSQL string
	upsertSQL string
	deleteSQL string
}

// NewSQLite opens (or creates) the database at path, creating its parent
// directory if needed, and applies the schema.
func NewSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return newMigratedSQLStore(ctx, db, DialectSQLite)
}

// NewPostgres connects with dsn and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newMigratedSQLStore(ctx, db, DialectPostgres)
}

func newMigratedSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return NewSQLStore(db, dialect), nil
}

// NewSQLStore wraps an open database whose kv table already exists.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	s := &SQLStore{db: db}
	if dialect == DialectPostgres {
		s.selectSQL = `SELECT value FROM kv WHERE key = $1`
		s.upsertSQL = `INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
		s.deleteSQL = `DELETE FROM kv WHERE key = $1`
	} else {
		s.selectSQL = `SELECT value FROM kv WHERE key = ?`
		s.upsertSQL = `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`
		s.deleteSQL = `DELETE FROM kv WHERE key = ?`
	}
	return s
}

func (s *SQLStore) Load(ctx context.Context) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.selectSQL, Key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load city list: %w", err)
	}
	return decode(raw)
}

func (s *SQLStore) Save(ctx context.Context, names []string) error {
	raw, err := encode(names)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.upsertSQL, Key, raw); err != nil {
		return fmt.Errorf("save city list: %w", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.deleteSQL, Key); err != nil {
		return fmt.Errorf("clear city list: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
