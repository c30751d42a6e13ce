package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "github.com/mattn/go-sqlite3"    // sqlite driver registered as 'sqlite3'
)

type dialect struct {
	name    string
	migrate []string
	upsert  string
	get     string
	keys    string
}

var postgresDialect = dialect{
	name: "postgres",
	migrate: []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	},
	upsert: `INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
	get:  `SELECT value FROM kv WHERE key = $1`,
	keys: `SELECT key FROM kv ORDER BY key`,
}

var sqliteDialect = dialect{
	name: "sqlite",
	migrate: []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	upsert: `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
	get:  `SELECT value FROM kv WHERE key = ?`,
	keys: `SELECT key FROM kv ORDER BY key`,
}

// SQLStore keeps blobs in a kv table.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// OpenPostgres connects with the pgx driver and ensures the kv table exists.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newSQLStore(ctx, db, postgresDialect)
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path empty")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, sqliteDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.migrate {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.name, err)
		}
	}
	slog.Debug("kv schema ready", slog.String("dialect", s.dialect.name))
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(v.String), nil
}

func (s *SQLStore) Put(ctx context.Context, key string, blob []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, key, string(blob)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.keys)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }
