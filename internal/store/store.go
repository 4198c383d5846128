// Package store defines the append-only storage contract shared by the job
// history (C10), realtime transcript log (C11), and latency summary
// persistence, plus two concrete backends: a JSONL file store and an
// optional Postgres-backed store.
//
// Per §1 Non-goals, only the storage interface contracts are specified —
// this package supplies the narrowest contract that satisfies every caller
// (Append/Scan/Prune), not a general-purpose database layer.
package store

import (
	"context"
	"time"
)

// Record is one persisted row: a kind discriminator, an opaque JSON-
// marshalable payload, and the timestamp used for retention pruning.
type Record struct {
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the append-only contract. Implementations must be safe for
// concurrent Append/Scan/Prune calls.
type Store interface {
	// Append writes one record of the given kind. The payload must be
	// JSON-marshalable.
	Append(ctx context.Context, kind string, payload any) error

	// Scan invokes fn for every stored Record, in append order, until fn
	// returns false or all records have been visited. Scan performs a
	// full pass at call time; realtime log session listing rebuilds its
	// view from Scan on every query. Job history does not read through
	// Scan: it lists jobs from its own in-memory index.
	Scan(ctx context.Context, kind string, fn func(Record) bool) error

	// Prune deletes every record of the given kind older than cutoff,
	// returning the number of rows removed.
	Prune(ctx context.Context, kind string, cutoff time.Time) (int, error)

	// Close releases any resources held by the store (open files,
	// connection pools).
	Close() error
}
