package store

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
)

// RegionID addresses an isolated region of the store.
type RegionID uint8

// scanPageSize bounds how many entries one Iter page holds in memory.
const scanPageSize = 128

// Registry maps region identifiers to isolated Region handles.
//
// A Registry is built once at process start over a single Backend; each
// structure looks its region up at initialization. Asking for the same
// identifier twice returns the same handle.
type Registry struct {
	backend Backend

	mu      sync.Mutex
	regions map[RegionID]*Region
	names   map[RegionID]string
}

// NewRegistry creates a registry over backend.
func NewRegistry(backend Backend) *Registry {
	return &Registry{
		backend: backend,
		regions: make(map[RegionID]*Region),
		names:   make(map[RegionID]string),
	}
}

// Backend returns the backend the registry partitions.
func (r *Registry) Backend() Backend {
	return r.backend
}

// Region returns the handle for id.
func (r *Registry) Region(id RegionID) *Region {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regionLocked(id)
}

// Named returns the handle for id and records name for diagnostics.
// Claiming an id under two different names is a wiring mistake and fails.
func (r *Registry) Named(id RegionID, name string) (*Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.names[id]; ok && existing != name {
		return nil, fmt.Errorf("region %d already registered as %q, cannot register as %q", id, existing, name)
	}
	r.names[id] = name
	return r.regionLocked(id), nil
}

func (r *Registry) regionLocked(id RegionID) *Region {
	if reg, ok := r.regions[id]; ok {
		return reg
	}
	reg := &Region{backend: r.backend, id: id, prefix: []byte{byte(id)}}
	r.regions[id] = reg
	return reg
}

// RegionInfo describes a registered region.
type RegionInfo struct {
	ID   RegionID `json:"id"`
	Name string   `json:"name,omitempty"`
}

// Regions lists the regions handed out so far, ordered by id.
func (r *Registry) Regions() []RegionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]RegionInfo, 0, len(r.regions))
	for id := range r.regions {
		infos = append(infos, RegionInfo{ID: id, Name: r.names[id]})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Region is an isolated key space inside a Backend.
//
// All keys passed to and returned from a Region are relative to it. A
// Region handle is cheap and holds no state besides its prefix.
type Region struct {
	backend Backend
	id      RegionID
	prefix  []byte
}

// ID returns the identifier of the top-level region this handle lives in.
func (r *Region) ID() RegionID {
	return r.id
}

// Sub returns a nested region named namespace. Sub-regions of the same
// parent never overlap each other.
func (r *Region) Sub(namespace []byte) *Region {
	return &Region{
		backend: r.backend,
		id:      r.id,
		prefix:  AppendLenPrefixed(append([]byte{}, r.prefix...), namespace),
	}
}

func (r *Region) key(k []byte) []byte {
	return concat(r.prefix, k)
}

func (r *Region) bounds() (lower, upper []byte) {
	return r.prefix, PrefixEnd(r.prefix)
}

// Get returns the value stored under key.
func (r *Region) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return r.backend.Get(ctx, r.key(key))
}

// Insert stores value under key and returns the previous value, if any.
func (r *Region) Insert(ctx context.Context, key, value []byte) ([]byte, bool, error) {
	full := r.key(key)
	prev, existed, err := r.backend.Get(ctx, full)
	if err != nil {
		return nil, false, err
	}
	if err := r.backend.Set(ctx, full, value); err != nil {
		return nil, false, err
	}
	return prev, existed, nil
}

// Remove deletes key and returns the removed value, if any.
func (r *Region) Remove(ctx context.Context, key []byte) ([]byte, bool, error) {
	full := r.key(key)
	prev, existed, err := r.backend.Get(ctx, full)
	if err != nil || !existed {
		return nil, false, err
	}
	if err := r.backend.Delete(ctx, full); err != nil {
		return nil, false, err
	}
	return prev, true, nil
}

// Len returns the number of keys in the region, including keys of nested
// sub-regions.
func (r *Region) Len(ctx context.Context) (uint64, error) {
	lower, upper := r.bounds()
	return r.backend.Count(ctx, lower, upper)
}

// IsEmpty reports whether the region holds no keys.
func (r *Region) IsEmpty(ctx context.Context) (bool, error) {
	_, ok, err := r.First(ctx)
	return !ok, err
}

// First returns the entry with the smallest key.
func (r *Region) First(ctx context.Context) (Entry, bool, error) {
	return r.edge(ctx, nil, false)
}

// Last returns the entry with the largest key.
func (r *Region) Last(ctx context.Context) (Entry, bool, error) {
	return r.edge(ctx, nil, true)
}

// FirstWithPrefix returns the smallest entry whose key starts with prefix.
func (r *Region) FirstWithPrefix(ctx context.Context, prefix []byte) (Entry, bool, error) {
	return r.edge(ctx, prefix, false)
}

// LastWithPrefix returns the largest entry whose key starts with prefix.
func (r *Region) LastWithPrefix(ctx context.Context, prefix []byte) (Entry, bool, error) {
	return r.edge(ctx, prefix, true)
}

func (r *Region) edge(ctx context.Context, prefix []byte, reverse bool) (Entry, bool, error) {
	lower := r.key(prefix)
	entries, err := r.backend.Scan(ctx, ScanRange{
		Lower:   lower,
		Upper:   PrefixEnd(lower),
		Reverse: reverse,
		Limit:   1,
	})
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return r.relative(entries[0]), true, nil
}

// All returns a lazy, restartable sequence of the region's entries in
// ascending key order.
//
// The sequence reads the backend in pages and holds no cursor between
// yields, so the loop body may call back into the store. Writes made while
// iterating may or may not be observed.
func (r *Region) All(ctx context.Context) iter.Seq2[Entry, error] {
	return r.Prefix(ctx, nil)
}

// Prefix is All restricted to keys starting with prefix.
func (r *Region) Prefix(ctx context.Context, prefix []byte) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		lower := r.key(prefix)
		upper := PrefixEnd(lower)
		var after []byte
		for {
			page, err := r.backend.Scan(ctx, ScanRange{
				Lower: lower,
				Upper: upper,
				After: after,
				Limit: scanPageSize,
			})
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(r.relative(e), nil) {
					return
				}
			}
			if len(page) < scanPageSize {
				return
			}
			after = page[len(page)-1].Key
		}
	}
}

// CountPrefix returns the number of keys starting with prefix.
func (r *Region) CountPrefix(ctx context.Context, prefix []byte) (uint64, error) {
	lower := r.key(prefix)
	return r.backend.Count(ctx, lower, PrefixEnd(lower))
}

// RemovePrefix deletes every key starting with prefix and reports whether
// anything was deleted.
func (r *Region) RemovePrefix(ctx context.Context, prefix []byte) (bool, error) {
	if _, ok, err := r.FirstWithPrefix(ctx, prefix); err != nil || !ok {
		return false, err
	}
	lower := r.key(prefix)
	err := r.backend.Apply(ctx, func(b Batch) error {
		return b.DeleteRange(lower, PrefixEnd(lower))
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Clear deletes every key in the region, including nested sub-regions.
func (r *Region) Clear(ctx context.Context) error {
	lower, upper := r.bounds()
	return r.backend.Apply(ctx, func(b Batch) error {
		return b.DeleteRange(lower, upper)
	})
}

// Apply runs fn against a region-relative batch committed atomically.
func (r *Region) Apply(ctx context.Context, fn func(b Batch) error) error {
	return r.backend.Apply(ctx, func(b Batch) error {
		return fn(&regionBatch{region: r, inner: b})
	})
}

func (r *Region) relative(e Entry) Entry {
	return Entry{Key: bytes.Clone(e.Key[len(r.prefix):]), Value: e.Value}
}

type regionBatch struct {
	region *Region
	inner  Batch
}

func (b *regionBatch) Set(key, value []byte) error {
	return b.inner.Set(b.region.key(key), value)
}

func (b *regionBatch) Delete(key []byte) error {
	return b.inner.Delete(b.region.key(key))
}

func (b *regionBatch) DeleteRange(lower, upper []byte) error {
	lo := b.region.key(lower)
	var hi []byte
	if upper != nil {
		hi = b.region.key(upper)
	} else {
		hi = PrefixEnd(b.region.prefix)
	}
	return b.inner.DeleteRange(lo, hi)
}
