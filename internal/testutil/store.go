package testutil

import (
	"path/filepath"
	"testing"

	"github.com/roach88/stablekit/internal/store"
)

// NewRegistry opens a temp-dir SQLite store and returns a registry over it.
// The store is closed when the test ends.
func NewRegistry(t testing.TB) *store.Registry {
	t.Helper()
	return NewRegistryWith(t, store.BackendSQLite)
}

// NewRegistryWith is NewRegistry for a specific backend kind.
func NewRegistryWith(t testing.TB, kind string) *store.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	if kind == store.BackendPebble {
		path = filepath.Join(t.TempDir(), "pebble")
	}
	backend, err := store.Open(kind, path)
	if err != nil {
		t.Fatalf("store.Open(%q) failed: %v", kind, err)
	}
	t.Cleanup(func() { backend.Close() })
	return store.NewRegistry(backend)
}

// ForEachBackend runs fn once per backend, each with a fresh registry.
func ForEachBackend(t *testing.T, fn func(t *testing.T, reg *store.Registry)) {
	t.Helper()
	for _, kind := range []string{store.BackendSQLite, store.BackendPebble} {
		t.Run(kind, func(t *testing.T) { fn(t, NewRegistryWith(t, kind)) })
	}
}
