// Package events maintains the push connection to the backend's server-sent event stream.
//
// Frames are decoded once, at the boundary, into the closed set [Ping], [Init] and [JobReady].
// A [JobReady] frame becomes a READY command on the job store's queue; dedup is the store's job.
//
// The [Channel] reconnects on its own after a constant delay and gives up (phase FAILED) after
// the configured number of consecutive failed attempts. [Channel.Reconnect] starts a fresh cycle.
package events
