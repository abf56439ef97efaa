// Package scheduler runs named periodic ticks on top of robfig/cron.
//
// Every tick is non-reentrant: when a run is still in flight at the next
// trigger, the trigger is skipped and counted. Stop waits for in-flight runs.
package scheduler
