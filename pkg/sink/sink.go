// Package sink defines the destination contract a sync run writes to.
// Implementations live in subpackages and register themselves with the
// connector registry.
//
// Upsert semantics are the foundation of the engine's crash safety:
// a batch replayed after a crash must land on the same primary keys
// and leave no duplicates. Every sink documents how it meets (or, for
// append-only sinks, delegates) that requirement.
package sink

import (
	"context"

	"github.com/flowsync-io/flowsync/pkg/models"
)

// Sink accepts record batches keyed by the configured primary key
type Sink interface {
	// Upsert inserts or replaces whole records by primary key
	Upsert(ctx context.Context, table string, records []*models.Record) error

	// Update applies partial records to existing rows by primary key
	Update(ctx context.Context, table string, records []*models.Record) error

	// Delete removes rows matching the given key values
	Delete(ctx context.Context, table string, keys []map[string]interface{}) error

	// Flush forces buffered writes out; called at finalize
	Flush(ctx context.Context) error

	// Close releases resources
	Close(ctx context.Context) error
}
