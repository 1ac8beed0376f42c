// Package store provides the key/value persistence layer for the mesh node.
//
// # Interfaces
//
//   - Store: Get/Put over opaque byte values, the minimal surface every
//     backend must provide
//   - Scanner: optional prefix key enumeration, used by index reconciliation
//
// Backends that cannot enumerate keys simply do not implement Scanner;
// callers type-assert and degrade gracefully.
//
// # Implementations
//
// MemoryStore keeps everything in a map and is the default for tests.
// SQLiteStore persists to a single kv table using modernc.org/sqlite with
// WAL mode enabled. Both copy values on the way in and out so callers
// cannot alias stored bytes.
//
// # Errors
//
// Get returns ErrNotFound for missing keys. All methods accept
// context.Context for cancellation.
package store
