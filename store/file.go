package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

const fileSuffix = ".json"

// FileStore keeps one file per key in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store directory empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string { return filepath.Join(s.dir, key+fileSuffix) }

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read from local storage: %w", err)
	}
	return b, nil
}

// Put writes through a temp file and rename so readers never see a partial blob.
func (s *FileStore) Put(_ context.Context, key string, blob []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("write to local storage: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write to local storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("write to local storage: %w", err)
	}
	if err := os.Chmod(name, 0o600); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, s.path(key)); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("write to local storage: %w", err)
	}
	return nil
}

func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), fileSuffix))
	}
	slices.Sort(out)
	return out, nil
}

func (s *FileStore) Ping(_ context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *FileStore) Close() error { return nil }
