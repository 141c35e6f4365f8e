package store

import (
	"context"
	"fmt"
)

// Backend is an ordered byte-key → byte-value engine.
//
// Keys compare by unsigned byte order. Every write is durable once the call
// returns. Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value stored under key. ok is false when absent.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key []byte) error

	// Scan returns up to r.Limit entries inside r in key order.
	Scan(ctx context.Context, r ScanRange) ([]Entry, error)

	// Count returns the number of keys in [lower, upper).
	Count(ctx context.Context, lower, upper []byte) (uint64, error)

	// Apply runs fn against a batch and commits it atomically.
	// If fn returns an error nothing is written.
	Apply(ctx context.Context, fn func(b Batch) error) error

	// Close releases the backend.
	Close() error
}

// Batch collects writes that commit together.
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error

	// DeleteRange removes every key in [lower, upper). A nil upper is unbounded.
	DeleteRange(lower, upper []byte) error
}

// Entry is a single key/value pair.
type Entry struct {
	Key   []byte
	Value []byte
}

// ScanRange selects a window of keys.
type ScanRange struct {
	// Lower is the inclusive lower bound. Nil means the first key.
	Lower []byte

	// Upper is the exclusive upper bound. Nil means unbounded.
	Upper []byte

	// After resumes a previous scan: only keys strictly after it (in scan
	// direction) are returned.
	After []byte

	// Reverse scans from the last key towards the first.
	Reverse bool

	// Limit caps the number of entries. Zero means no limit.
	Limit int
}

// Backend kinds accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Open opens the backend of the given kind at path.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case "", BackendSQLite:
		return OpenSQLite(path)
	case BackendPebble:
		return OpenPebble(path)
	default:
		return nil, fmt.Errorf("unknown backend %q: must be %q or %q", kind, BackendSQLite, BackendPebble)
	}
}
