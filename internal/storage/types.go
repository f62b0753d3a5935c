package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file (<path without ext>.audit.jsonl)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit kinds.
const (
	KindCycle             = "cycle"
	KindFulfilled         = "fulfilled"
	KindFulfillmentFailed = "fulfillment_failed"
	KindTickSkipped       = "tick_skipped"
)

// AuditEntry is one audit record. Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	CycleID    uint64    `json:"cycle_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	ChatID     int64     `json:"chat_id,omitempty"`
	ActorID    int64     `json:"actor_id,omitempty"`
	SentItemID string    `json:"item_id,omitempty"`
	SourceRef  string    `json:"ref,omitempty"`
	OK         int       `json:"ok,omitempty"`
	Fail       int       `json:"fail,omitempty"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"took_ms,omitempty"`
	MetaJSON   string    `json:"meta,omitempty"`
}

// Store is the audit persistence API.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to n entries, newest first.
	RecentAudit(ctx context.Context, n int) ([]AuditEntry, error)
	Close() error
}
