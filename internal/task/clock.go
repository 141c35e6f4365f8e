package task

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time in whole seconds.
type Clock interface {
	NowSecs() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// NowSecs returns the Unix time in seconds.
func (SystemClock) NowSecs() uint64 {
	return uint64(time.Now().Unix())
}

// IDGenerator produces task ids. IDs must be unique; ids that sort in
// generation order keep List in enqueue order.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 task ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids sort by
// creation time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
