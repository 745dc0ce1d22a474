// Package scheduler owns the single time-sync schedule and the loop that fires it.
//
// # Overview
//
// A Service holds one cron expression, the next run time derived from it, and a
// guard that lets at most one synchronization run at a time. A background
// poller wakes every PollInterval (default 5m), and when the next run time has
// passed it runs the action through the guard. Manual triggers go through the
// same guard, so scheduled and manual runs never overlap.
//
// # Next run time
//
// After every attempt (successful or not) the next run time is recomputed from
// the current time, never from the previous next run time. A long action or a
// missed tick therefore schedules only the single next future occurrence.
//
// # Lifecycle
//
// Start loads the persisted schedule and starts the poller. Stop interrupts the
// poller's sleep, waits for an in-flight action to finish, and writes the
// schedule one final time.
package scheduler
