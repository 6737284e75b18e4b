// Package ui implements a live terminal dashboard using bubbletea's Elm architecture.
//
// The dashboard shows:
//  1. Push channel health: phase, reconnect attempt and time since the last event
//  2. The last reconciliation pass: results fetched, READY commands queued, jobs timed out
//  3. Tracked jobs grouped into date folders, newest first
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Job store changes and connection changes are turned into messages by subscriptions registered in Init; poll reports
// flow through the channel given to the engine, providing non-blocking status reporting.
//
// Keyboard navigation uses vim-style bindings (j/k, p, r, u, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
