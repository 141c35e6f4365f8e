// Package store provides the durable, ordered byte-keyed storage that every
// stablekit structure is built on.
//
// The store is layered:
//   - Backend: an ordered key/value engine (SQLite or Pebble). Keys compare
//     by unsigned byte order. A completed write is durable.
//   - Registry: the memory manager. Maps small integer region identifiers to
//     isolated Region handles. Built once at process start.
//   - Region: a key prefix inside the backend. Structures never see keys
//     outside their own region. Regions nest through Sub.
//   - ChunkedMap: a map whose values are split into fixed-size slices so a
//     record never exceeds a single entry's maximum size.
//
// # Key Layout
//
//	[region id] [sub namespace]* [structure key]
//
// A sub namespace is encoded as uvarint(len(ns)) || ns, so sibling
// namespaces can never overlap and a prefix scan over one namespace never
// yields another's keys.
//
// # Concurrency
//
// Backends are safe for concurrent use, but the structures built on top are
// designed for one logical thread of control: callers run one operation to
// completion before starting the next.
//
// # Errors
//
// Absence is never an error: lookups return ok == false. Writes that exceed a
// structure's configured limits fail with *CapacityError before anything is
// written. Bytes that cannot be decoded surface as *SerializationError.
package store
