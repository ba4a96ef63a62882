// Package trigger is the wake-up facility: named recurring jobs on top of
// robfig/cron, evaluated in a configurable timezone.
//
// Schedules are cron expressions ("0 * * * *", "@hourly") or intervals
// ("55m", "02:30"). Jobs run with panic recovery and are skipped while a
// previous run of the same entry is still going.
package trigger
