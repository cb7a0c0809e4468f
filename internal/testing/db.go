// Package testing provides testing utilities and helpers for the harvester.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/harvester/internal/database"
)

// NewTestDB creates a file-backed SQLite database in a temp dir with the
// harvest schema applied. Returns the database and a cleanup function.
func NewTestDB(t *testing.T) (*database.DB, func()) {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "harvest.db"),
		Profile: database.ProfileStandard,
		Name:    "harvest",
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
	}
}
