// Package storage persists schedule items and their dispatch state.
//
// Backends:
//   - "memory": process-local, for tests and one-shot CLI runs
//   - "file": dependency-free snapshot + JSON Lines journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Every backend implements DayClaimer so overlapping dispatcher runs cannot
// both claim the same item for the same day.
package storage
