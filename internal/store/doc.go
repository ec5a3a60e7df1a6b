// Package store provides content-addressed value storage for a notebook
// session and the SQLite record of its chain.
//
// # Values
//
// Store keeps one payload per distinct content hash together with a
// reference count. Put stores a novel value with count 1 or increments the
// count of an existing one; Decref evicts the payload when the count reaches
// zero. No entry with a zero count ever exists. Get decodes a fresh value on
// every call, so mutating a fetched value never alters what is stored.
//
// Payloads live in a Backend: MemoryBackend for ephemeral sessions, or
// DiskBackend, which writes one <hash>.json file per value atomically and
// keeps recently read payloads in an LRU cache.
//
// # Chain record
//
// MetaStore persists the ordered node list of a chain (id, code, validity
// and last-run bindings) plus a session row. It uses SQLite with:
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Binding maps are stored as RFC 8785 canonical JSON (internal/ir) so the
// record of identical chains is byte-identical.
package store
