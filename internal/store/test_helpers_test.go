package store

import (
	"path/filepath"
	"testing"
)

// createTestSQLite creates a new SQLite backend in a temp directory.
func createTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestPebble creates a new Pebble backend in a temp directory.
func createTestPebble(t *testing.T) *Pebble {
	t.Helper()
	p, err := OpenPebble(filepath.Join(t.TempDir(), "pebble"))
	if err != nil {
		t.Fatalf("OpenPebble() failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// forEachBackend runs fn once per backend implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) { fn(t, createTestSQLite(t)) })
	t.Run("pebble", func(t *testing.T) { fn(t, createTestPebble(t)) })
}
