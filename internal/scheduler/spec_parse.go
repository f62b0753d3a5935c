package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates raw and returns the normalized cron expression.
func ParseSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}
	if strings.HasPrefix(strings.ToLower(s), "cron:") {
		s = strings.TrimSpace(s[len("cron:"):])
		if s == "" {
			return "", fmt.Errorf("cron schedule required after 'cron:'")
		}
	}
	if strings.HasPrefix(strings.ToLower(s), "@every") {
		return "", fmt.Errorf("invalid schedule %q: interval schedules are not supported, use a cron expression", raw)
	}
	if _, err := time.ParseDuration(s); err == nil {
		return "", fmt.Errorf("invalid schedule %q: interval schedules are not supported, use a cron expression", raw)
	}
	if _, err := parser.Parse(s); err != nil {
		return "", fmt.Errorf("invalid schedule %q (use cron like '0 */2 * * *'): %w", raw, err)
	}
	return s, nil
}

// NextTicks returns the next n fire times of spec after from, evaluated in loc.
func NextTicks(spec string, loc *time.Location, from time.Time, n int) ([]time.Time, error) {
	expr, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	out := make([]time.Time, 0, n)
	t := from.In(loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// LoadLocation resolves an IANA zone name; empty means the process-local zone.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}
