// Package store provides the KV storage abstraction the pulse pipeline runs
// on: conditional puts, point gets, delete-returning-old, atomic
// read-modify-write, secondary-index range queries, and a change stream.
//
// Conditional-check failures surface as typed errors and are never retried;
// transient failures are retried by callers through WithRetry. Numeric money
// fields inside stored bodies are fixed-point (see models.Cents), so bodies
// can be compared and summed without float drift.
package store

import (
	"context"
)

// Key addresses one item. Sort is empty for single-key tables and carries
// the range component for composite tables (ledger entries, profiles).
type Key struct {
	Part string
	Sort string
}

func (k Key) String() string {
	if k.Sort == "" {
		return k.Part
	}
	return k.Part + "/" + k.Sort
}

// IndexSpec declares a secondary index maintained transactionally with every
// write. Extract pulls the index partition and sort values out of a stored
// body; ok=false keeps the item out of the index.
type IndexSpec struct {
	Name    string
	Extract func(body []byte) (partition, sort string, ok bool)
}

// TableSpec declares one logical table. TTLField names a JSON field holding
// a unix-seconds expiry; expired items are removed by a background purge.
type TableSpec struct {
	Name     string
	TTLField string
	Indexes  []IndexSpec
}

// Query describes a range read. Index "" queries the primary (Part, Sort)
// layout directly; otherwise a registered secondary index by name.
type Query struct {
	Index      string
	Partition  string
	SortPrefix string
	Limit      int
	Descending bool
}

// Store is the storage contract the repositories are written against.
type Store interface {
	RegisterTable(spec TableSpec) error

	// PutIfAbsent inserts body at key; a present key fails with an
	// AlreadyExists error and leaves the stored item untouched.
	PutIfAbsent(ctx context.Context, table string, key Key, body []byte) error

	// Get returns the stored body or a NotFound error.
	Get(ctx context.Context, table string, key Key) ([]byte, error)

	// DeleteReturningOld removes the item and returns the previous body, or
	// a NotFound error when nothing was stored.
	DeleteReturningOld(ctx context.Context, table string, key Key) ([]byte, error)

	// AtomicUpdate runs fn inside one write transaction. fn receives nil
	// when the key is absent and may initialize it; an error returned by fn
	// aborts the update and propagates unchanged.
	AtomicUpdate(ctx context.Context, table string, key Key, fn func(old []byte) ([]byte, error)) ([]byte, error)

	// QueryIndex returns bodies ordered by the index sort value.
	QueryIndex(ctx context.Context, table string, q Query) ([][]byte, error)

	// ScanTable returns up to limit bodies across all partitions of a
	// table, ordered by (partition, sort). limit <= 0 means no cap.
	ScanTable(ctx context.Context, table string, limit int) ([][]byte, error)

	// Subscribe returns a change feed for the table plus a cancel func.
	// Delivery is per-partition ordered but best-effort: a full
	// subscriber buffer drops records, so consumers must tolerate both
	// redelivery and gaps and recover the latter by scanning the table.
	Subscribe(table string) (<-chan Change, func())

	Close() error
}
