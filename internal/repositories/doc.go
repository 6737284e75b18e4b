// Package repositories implements SQLite persistence for the sync engine.
//
// Everything the engine keeps across restarts is a versioned blob under a namespaced key in the
// snapshots table:
//   - [SnapshotRepository] : generic Save/Load/Delete, implements jobs.Persister
//   - [SessionRepository] : the backend session cookie used to bootstrap the access token
//
// Keys in use are "jobs.snapshot", "poller.cursor" and "auth.session".
package repositories
