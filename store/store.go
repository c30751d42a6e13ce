// Package store persists opaque state blobs by key. Backends are selected by
// DSN scheme: postgres, sqlite, local files or Google Cloud Storage, with an
// optional AES-GCM sealing layer on top.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// Store is a small key/value blob store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
	Keys(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// DSN is one of postgres://…, sqlite://path, file://dir or gs://bucket/prefix.
	DSN string
	// EncryptionKey, when set, is a base64 32-byte AES key used to seal blobs.
	EncryptionKey string
	// GCSEndpoint overrides the Cloud Storage endpoint (emulators).
	GCSEndpoint string
}

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,127}$`)

// validKey rejects keys that could escape a directory or bucket prefix.
func validKey(key string) error {
	if !keyPattern.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("store: invalid key %q", key)
	}
	return nil
}

// Open returns the backend named by cfg.DSN.
func Open(ctx context.Context, cfg Config) (Store, error) {
	scheme, rest, ok := strings.Cut(cfg.DSN, "://")
	if !ok {
		return nil, fmt.Errorf("store: dsn %q has no scheme", cfg.DSN)
	}
	var (
		s   Store
		err error
	)
	switch scheme {
	case "postgres", "postgresql":
		s, err = OpenPostgres(ctx, cfg.DSN)
	case "sqlite", "sqlite3":
		s, err = OpenSQLite(ctx, rest)
	case "file":
		s, err = NewFileStore(rest)
	case "gs":
		bucket, prefix, _ := strings.Cut(rest, "/")
		s, err = OpenGCS(ctx, bucket, prefix, cfg.GCSEndpoint)
	default:
		return nil, fmt.Errorf("store: unsupported scheme %q", scheme)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("state store opened", slog.String("backend", scheme))
	if cfg.EncryptionKey == "" {
		return s, nil
	}
	sealed, err := NewSealed(s, cfg.EncryptionKey)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	slog.Info("state encryption enabled (AES-256-GCM)")
	return sealed, nil
}
