// Package storage is the persistence layer: a settings key/value table,
// the subscriber roster, and the append-only join-request ledger, all in
// one SQLite file.
package storage
