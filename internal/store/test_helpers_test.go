package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/casework/internal/task"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a fresh database file under t.TempDir().
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestJob inserts a PENDING job with the given id.
func createTestJob(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.CreateJob(t.Context(), id, task.Params{"company": "Acme"}, testNow); err != nil {
		t.Fatalf("CreateJob(%s) failed: %v", id, err)
	}
}
