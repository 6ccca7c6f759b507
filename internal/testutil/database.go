package testutil

import (
	"path/filepath"
	"testing"

	"tgdrive/internal/database"
	"tgdrive/internal/drive"
)

// NewTestDatabase creates a migrated SQLite index in a temp directory.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) drive.Database {
	t.Helper()

	db, err := database.NewSQLiteDatabase(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
