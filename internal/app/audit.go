package app

import (
	"context"
	"encoding/json"
	"time"

	"memebot/internal/broadcast"
	"memebot/internal/eventbus"
	"memebot/internal/reply"
	"memebot/internal/scheduler"
	"memebot/internal/storage"
	logx "memebot/pkg/logx"
)

var auditTopics = []string{"broadcast.cycle.finished", "reply.fulfilled", "reply.failed", "scheduler.skipped"}

// auditEntryFor maps a bus event onto an audit record.
func auditEntryFor(e eventbus.Event) (storage.AuditEntry, bool) {
	out := storage.AuditEntry{At: e.Time}
	switch d := e.Data.(type) {
	case broadcast.Report:
		if e.Type != "broadcast.cycle.finished" {
			return storage.AuditEntry{}, false
		}
		out.Kind = storage.KindCycle
		out.CycleID = d.CycleID
		out.RunID = d.RunID
		out.OK = d.Sent
		out.Fail = d.Failed()
		out.TookMS = d.Took.Milliseconds()
		out.MetaJSON = metaJSON(map[string]any{
			"attempted":      d.Attempted,
			"fetch_failed":   d.FetchFailed,
			"resolve_failed": d.ResolveFailed,
			"send_failed":    d.SendFailed,
			"interrupted":    d.Interrupted,
		})
	case reply.FulfillmentEvent:
		switch e.Type {
		case "reply.fulfilled":
			out.Kind = storage.KindFulfilled
		case "reply.failed":
			out.Kind = storage.KindFulfillmentFailed
		default:
			return storage.AuditEntry{}, false
		}
		out.CycleID = d.CycleID
		out.ChatID = d.ChatID
		out.ActorID = d.FromID
		out.SentItemID = d.SentItemID
		out.SourceRef = d.SourceRef
		out.Error = d.Error
	case scheduler.RunEvent:
		if e.Type != "scheduler.skipped" {
			return storage.AuditEntry{}, false
		}
		out.Kind = storage.KindTickSkipped
		out.Error = d.Error
		out.MetaJSON = metaJSON(map[string]any{"name": d.Name, "trigger": d.Trigger})
	default:
		return storage.AuditEntry{}, false
	}
	return out, true
}

func metaJSON(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// recordAudit appends audit entries until stop is closed, then drains what is already queued.
func (a *App) recordAudit(events <-chan eventbus.Event, stop <-chan struct{}) {
	write := func(e eventbus.Event) {
		entry, ok := auditEntryFor(e)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.audit.AppendAudit(ctx, entry); err != nil {
			a.log.Warn("audit append failed", logx.String("kind", entry.Kind), logx.Err(err))
		}
	}

	for {
		select {
		case e := <-events:
			write(e)
		case <-stop:
			for {
				select {
				case e := <-events:
					write(e)
				default:
					return
				}
			}
		}
	}
}
