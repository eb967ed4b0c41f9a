// Package scheduler re-runs named jobs on a schedule (cron expression or
// fixed interval) using robfig/cron. A job that is still running when its
// next tick arrives is skipped, never stacked.
package scheduler
