// Package models defines the domain types shared by the csync sync engine.
//
// The package contains:
//
//   - [Job] : a content generation unit tracked locally, addressable by temp id or server job id
//   - [State] : the job lifecycle with its merge ordering ([State.Rank])
//   - [Folder] : jobs grouped by creation date for display
//   - [Result] : a completion record reported by the backend's completed-results endpoint
//   - [ConnectionState] : push channel health surfaced to status displays
package models
