package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/mise/db"
)

// CreateTestDB creates a migrated SQLite test database in a temp dir.
// A file is used instead of :memory: so every pooled connection (actor
// mailboxes, the wake-up ticker) sees the same data.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}
