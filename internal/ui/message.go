package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgJobsChanged MsgKind = iota
	MsgConnectionChanged
	MsgPollReport
	MsgPublished
	MsgStatus
)

// jobsChangedMsg is the constructor for [MsgJobsChanged]. It carries no data; the model re-reads the store.
func jobsChangedMsg() Msg {
	return Msg{kind: MsgJobsChanged}
}

// connectionChangedMsg is the constructor for [MsgConnectionChanged]
func connectionChangedMsg(state models.ConnectionState) Msg {
	return Msg{kind: MsgConnectionChanged, data: state}
}

// pollReportMsg is the constructor for [MsgPollReport]
func pollReportMsg(report tasks.PollReport) Msg {
	return Msg{kind: MsgPollReport, data: report}
}

// publishedMsg is the constructor for [MsgPublished]
func publishedMsg(job models.Job, err error) Msg {
	return Msg{
		kind: MsgPublished,
		data: struct {
			job models.Job
			err error
		}{job, err},
	}
}

// statusMsg is the constructor for [MsgStatus]
func statusMsg(text string) Msg {
	return Msg{kind: MsgStatus, data: text}
}
