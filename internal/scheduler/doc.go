// Package scheduler fires named jobs on calendar-aligned cron ticks in a fixed timezone.
//
// Each job has a run state: a tick that arrives while the previous run of the same job is still
// active is skipped (logged and published as "scheduler.skipped"). Missed ticks are never replayed.
//
// Supported schedule formats:
//   - 5-field cron: "0 */2 * * *"
//   - 6-field cron with seconds: "0 0 */2 * * *"
//   - descriptors: "@hourly", "@daily", "@weekly", "@monthly", "@yearly"
//   - any of the above with an explicit "cron:" prefix
//
// Fixed intervals ("@every 2h", "2h") are rejected since they drift from the wall clock.
package scheduler
