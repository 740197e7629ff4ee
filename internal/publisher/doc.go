// Package publisher runs the channel publication loop.
//
// The Engine keeps exactly one timer armed for the next publication. When it
// fires, a SkipPolicy coin flip decides whether to publish; the Executor
// generates content and sends it; the outcome is persisted and the loop
// re-arms itself. The next time comes from the Calculator, which trusts a
// persisted future time (so restarts don't re-roll the delay) and otherwise
// draws a crypto-random delay from the time-of-day window.
//
// HealthMonitor watches the loop and re-arms it when a run is overdue.
package publisher
