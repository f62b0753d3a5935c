// Package correlation tracks which broadcast item maps to which source URL.
//
// Entries are created after a successful self-expiring send, removed one at a time by a successful
// fulfillment, and bulk-cleared at the start of every broadcast cycle. The store is volatile: it is
// empty on every process start regardless of backend.
package correlation

import (
	"context"
	"time"
)

// Entry links a sent item to the content it was produced from. Entries are never mutated.
type Entry struct {
	SentItemID string    `json:"id"`
	SourceRef  string    `json:"ref"`
	CycleID    uint64    `json:"cycle"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the correlation table shared by the dispatcher and the reply handler.
//
// No method reports an error: Set overwrites, Delete and ClearAll are idempotent,
// and a backend failure degrades to "absent" or no-op (and is logged by the backend).
type Store interface {
	Set(ctx context.Context, e Entry)
	Get(ctx context.Context, sentItemID string) (Entry, bool)
	Delete(ctx context.Context, sentItemID string)
	ClearAll(ctx context.Context)
	Len(ctx context.Context) int
}
