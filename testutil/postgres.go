package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/onnwee/live-herald/store"
)

// SetupTestStore opens a Postgres-backed store with the kv table migrated.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	s, err := store.OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
