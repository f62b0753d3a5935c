package scheduler

import (
	"sort"
	"sync"
	"time"
)

// RunEvent is the payload of scheduler.* bus events.
type RunEvent struct {
	Name    string        `json:"name"`
	Trigger string        `json:"trigger"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`
	Error   string        `json:"error,omitempty"`
}

type runState struct {
	mu       sync.Mutex
	inflight bool
	started  time.Time
	last     time.Time
	lastErr  string
	runs     uint64
	skips    uint64
}

func (s *runState) tryAcquire(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	s.started = now
	return true
}

func (s *runState) release(err error) {
	s.mu.Lock()
	s.inflight = false
	s.last = s.started
	s.lastErr = errString(err)
	s.runs++
	s.mu.Unlock()
}

func (s *runState) skipped() {
	s.mu.Lock()
	s.skips++
	s.mu.Unlock()
}

// EntryInfo is a point-in-time view of one registered schedule.
type EntryInfo struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Next      time.Time `json:"next"`
	Running   bool      `json:"running"`
	LastStart time.Time `json:"last_start,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      uint64    `json:"runs"`
	Skips     uint64    `json:"skips"`
}

// Entries lists registered schedules sorted by name.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		d.state.mu.Lock()
		info := EntryInfo{
			Name:      d.name,
			Spec:      d.spec,
			Running:   d.state.inflight,
			LastStart: d.state.last,
			LastError: d.state.lastErr,
			Runs:      d.state.runs,
			Skips:     d.state.skips,
		}
		d.state.mu.Unlock()
		info.Next = s.nextLocked(d)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
