// Package tasks runs the background side of the sync engine.
//
// # Reconciliation
//
// [Poller] asks the backend for results completed since its cursor on a fixed interval and turns
// each one that matches a job still waiting on the server into a READY command on the job store's
// queue. It is the safety net for push events that never arrived. A failed pass is logged and
// skipped: absence of evidence never fails a job. When a job timeout is configured, each
// successful pass also fails jobs that have waited longer than that.
//
// # Engine
//
// [Engine] wires the token store, API client, job store, event channel and poller together and
// owns their lifecycle:
//
//  1. [Engine.Start] restores the job snapshot and poll cursor, starts the store queue, and
//     activates the channel and poller once a credential is present.
//  2. Credential changes are handled on the engine's goroutine. A cleared credential (logout or
//     failed refresh) disconnects the channel and stops the poller; a new one brings them back.
//  3. [Engine.Stop] tears everything down and is safe to call more than once.
//
// # Progress Reporting
//
// Each pass produces a [PollReport]. Reports go to an optional channel with a non-blocking send,
// so a slow reader never stalls reconciliation.
package tasks
