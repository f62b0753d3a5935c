// Package storage is the append-only audit log: one record per broadcast cycle, fulfillment
// and skipped tick. It is optional and never holds correlation state.
package storage
