package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"memebot/internal/broadcast"
	"memebot/internal/runtime/supervisor"
	"memebot/internal/scheduler"
)

// Status is the operational snapshot served by /status and the admin API.
type Status struct {
	Now         time.Time                      `json:"now"`
	Timezone    string                         `json:"timezone"`
	TargetChat  int64                          `json:"target_chat"`
	CycleID     uint64                         `json:"cycle_id"`
	LiveEntries int                            `json:"live_entries"`
	LastReport  *broadcast.Report              `json:"last_report,omitempty"`
	Schedules   []scheduler.EntryInfo          `json:"schedules"`
	Supervisors map[string]supervisor.Counters `json:"supervisors"`
}

func (a *App) Status(ctx context.Context) Status {
	loc := a.sched.Location()
	st := Status{
		Now:         time.Now().In(loc),
		Timezone:    loc.String(),
		TargetChat:  a.cfg.Broadcast.TargetChat,
		CycleID:     a.dispatcher.CycleID(),
		LiveEntries: a.entries.Len(ctx),
		Schedules:   a.sched.Entries(),
		Supervisors: map[string]supervisor.Counters{},
	}
	if rep, ok := a.dispatcher.LastReport(); ok {
		st.LastReport = &rep
	}
	if a.sup != nil {
		st.Supervisors["app"] = a.sup.Counters()
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *supervisor.Supervisor }); ok {
		if sup := sp.Supervisor(); sup != nil {
			st.Supervisors["telegram.adapter"] = sup.Counters()
		}
	}
	return st
}

func formatStatus(st Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cycle: %d\n", st.CycleID)
	fmt.Fprintf(&b, "live entries: %d\n", st.LiveEntries)
	for _, s := range st.Schedules {
		if s.Next.IsZero() {
			continue
		}
		state := ""
		if s.Running {
			state = " (running)"
		}
		fmt.Fprintf(&b, "next %s: %s%s\n", s.Name, s.Next.In(st.Now.Location()).Format("2006-01-02 15:04 MST"), state)
	}
	if r := st.LastReport; r != nil {
		fmt.Fprintf(&b, "last cycle: %d/%d sent in %s", r.Sent, r.Attempted, r.Took.Round(time.Second))
		if r.Interrupted {
			b.WriteString(" (interrupted)")
		}
		b.WriteString("\n")
	} else {
		b.WriteString("last cycle: none yet\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
