package test

import (
	"io"
	"testing"

	"github.com/google/uuid"

	"accounts/internal/adapter/database/sqlite"
)

// InitTestDB opens a private in-memory database with every migration applied.
// Each call gets its own schema, so suites can run in parallel.
func InitTestDB(t testing.TB) *sqlite.DB {
	t.Helper()

	db, err := sqlite.NewDB(sqlite.Options{
		Path:   "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		LogOut: io.Discard,
	})

	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}
