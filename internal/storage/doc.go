// Package storage persists the watcher offset and the delivery journal.
//
// Drivers:
//   - file: <prefix>.state.json (atomic replace) + <prefix>.deliveries.jsonl
//   - sqlite: modernc.org/sqlite, WAL mode
//   - postgres: lib/pq
//   - redis: one JSON value plus a capped list
//   - none: process memory only
package storage
