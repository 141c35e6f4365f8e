package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDGenerator generates predictable, ascending ids.
//
// IDs are zero-padded so lexicographic order equals generation order,
// the same property UUIDv7 ids give in production. Golden traces depend
// on the ids being identical between runs.
//
// Thread-safety: SequentialIDGenerator is safe for concurrent use via internal mutex.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialIDGenerator creates a generator producing prefix-0001,
// prefix-0002, ... If prefix is empty, "task" is used.
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "task"
	}
	return &SequentialIDGenerator{prefix: prefix, next: 1}
}

// Generate returns the next id.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s-%04d", g.prefix, g.next)
	g.next++
	return id
}
