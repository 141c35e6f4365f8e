package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Pebble is a Backend stored in a Pebble LSM directory.
// All writes use pebble.Sync so a returned write survives a crash.
type Pebble struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

// OpenPebble creates or opens a Pebble database in dir.
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}
	return &Pebble{db: db}, nil
}

// Close closes the database. Safe to call more than once.
func (p *Pebble) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

// Get implements Backend.
func (p *Pebble) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, false, ErrClosed
	}

	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	// The returned slice is only valid until closer.Close().
	out := append([]byte{}, val...)
	if err := closer.Close(); err != nil {
		return nil, false, fmt.Errorf("get: close: %w", err)
	}
	return out, true, nil
}

// Set implements Backend.
func (p *Pebble) Set(ctx context.Context, key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (p *Pebble) Delete(ctx context.Context, key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Scan implements Backend.
func (p *Pebble) Scan(ctx context.Context, r ScanRange) ([]Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: r.Lower, UpperBound: r.Upper})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	entries := []Entry{}
	var valid bool
	switch {
	case r.Reverse && r.After != nil:
		valid = iter.SeekLT(r.After)
	case r.Reverse:
		valid = iter.Last()
	case r.After != nil:
		valid = iter.SeekGE(r.After)
		if valid && bytes.Equal(iter.Key(), r.After) {
			valid = iter.Next()
		}
	default:
		valid = iter.First()
	}

	for ; valid; valid = step(iter, r.Reverse) {
		entries = append(entries, Entry{
			Key:   append([]byte{}, iter.Key()...),
			Value: append([]byte{}, iter.Value()...),
		})
		if r.Limit > 0 && len(entries) >= r.Limit {
			break
		}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scan: close iterator: %w", err)
	}
	return entries, nil
}

func step(iter *pebble.Iterator, reverse bool) bool {
	if reverse {
		return iter.Prev()
	}
	return iter.Next()
}

// Count implements Backend. Pebble keeps no key count, so this is a scan.
func (p *Pebble) Count(ctx context.Context, lower, upper []byte) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, ErrClosed
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	var n uint64
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("count: close iterator: %w", err)
	}
	return n, nil
}

// Apply implements Backend using an atomic pebble.Batch.
func (p *Pebble) Apply(ctx context.Context, fn func(b Batch) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	batch := p.db.NewBatch()
	defer batch.Close()

	if err := fn(&pebbleBatch{db: p.db, batch: batch}); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("apply: commit: %w", err)
	}
	return nil
}

type pebbleBatch struct {
	db    *pebble.DB
	batch *pebble.Batch
}

func (b *pebbleBatch) Set(key, value []byte) error {
	return b.batch.Set(key, value, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	return b.batch.Delete(key, nil)
}

func (b *pebbleBatch) DeleteRange(lower, upper []byte) error {
	if upper != nil {
		return b.batch.DeleteRange(lower, upper, nil)
	}
	// Pebble range deletions need an end key; fall back to point deletes.
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: lower})
	if err != nil {
		return fmt.Errorf("batch delete range: %w", err)
	}
	for valid := iter.First(); valid; valid = iter.Next() {
		if err := b.batch.Delete(append([]byte{}, iter.Key()...), nil); err != nil {
			iter.Close()
			return err
		}
	}
	return iter.Close()
}
