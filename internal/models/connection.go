package models

import "time"

// Phase is the push channel connection phase.
type Phase int

const (
	// PhaseClosed means the channel has not been started or was disconnected.
	PhaseClosed Phase = iota
	PhaseConnecting
	PhaseOpen
	PhaseReconnecting
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "CLOSED"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseOpen:
		return "OPEN"
	case PhaseReconnecting:
		return "RECONNECTING"
	case PhaseFailed:
		return "FAILED"
	default:
		return ""
	}
}

// ConnectionState is a snapshot of push channel health.
type ConnectionState struct {
	Phase       Phase
	Attempt     int
	LastEventAt time.Time
}
