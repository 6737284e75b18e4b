// Package jobs is the single source of truth for locally tracked jobs.
//
// A job is created PENDING under a client generated temp id, gains a server id through
// [Store.BindServerID], and then only ever moves forward:
//
//	PENDING -> PROCESSING -> READY -> UPLOADED
//	PENDING/PROCESSING -> FAILED
//	PENDING/FAILED -> READY
//
// Transitions are merged by rank, so a transition to a state at or below the current one is a
// no-op, as is any move to UPLOADED from a state other than READY. Push events and reconciliation polls both feed the same [Command] queue through
// [Store.Dispatch]; [Store.Run] drains it.
//
// Every mutation is followed by a snapshot write through a [Persister]. The write first merges
// whatever is already stored, so several processes sharing one database keep each other's jobs;
// removals travel as tombstones. [Store.Restore] loads the snapshot at startup and
// [Store.Reload] merges it again later.
package jobs
