package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore keeps one object per key under a bucket prefix.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// OpenGCS creates a Cloud Storage client using application default
// credentials, or an unauthenticated client against endpoint when set.
func OpenGCS(ctx context.Context, bucket, prefix, endpoint string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket empty")
	}
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return NewGCSStore(client, bucket, prefix), nil
}

// NewGCSStore wraps an existing client.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: slog.Default().With(slog.String("component", "gcs_store")),
	}
}

func (s *GCSStore) object(key string) string {
	return path.Join(s.prefix, key+fileSuffix)
}

func (s *GCSStore) do(ctx context.Context, op, key string, fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", err)
		}),
	)
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	var (
		data     []byte
		notFound bool
	)
	err := s.do(ctx, "get", key, func() error {
		r, err := s.client.Bucket(s.bucket).Object(s.object(key)).NewReader(ctx)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				notFound = true
				return retry.Unrecoverable(err)
			}
			return fmt.Errorf("open storage reader: %w", err)
		}
		defer func() {
			if err := r.Close(); err != nil {
				s.logger.Warn("failed to close storage reader", "error", err)
			}
		}()
		data, err = io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read from storage: %w", err)
		}
		return nil
	})
	if notFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, blob []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := s.do(ctx, "put", key, func() error {
		w := s.client.Bucket(s.bucket).Object(s.object(key)).NewWriter(ctx)
		w.ContentType = "application/json"
		if _, err := w.Write(blob); err != nil {
			if closeErr := w.Close(); closeErr != nil {
				s.logger.Warn("failed to close writer after error", "error", closeErr)
			}
			return fmt.Errorf("write to storage: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("close storage writer: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (s *GCSStore) Keys(ctx context.Context) ([]string, error) {
	q := &storage.Query{}
	if s.prefix != "" {
		q.Prefix = s.prefix + "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, q)
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		name := strings.TrimPrefix(attrs.Name, q.Prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, fileSuffix))
	}
	return out, nil
}

func (s *GCSStore) Ping(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}

func (s *GCSStore) Close() error { return s.client.Close() }
