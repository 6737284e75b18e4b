package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/csync/internal/formatter"
	"github.com/desertthunder/csync/internal/jobs"
	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/tasks"
)

// Model represents the dashboard state.
type Model struct {
	ctx         context.Context
	engine      *tasks.Engine
	reports     <-chan tasks.PollReport
	updates     chan Msg
	unsubscribe []func()
	now         func() time.Time

	width   int
	height  int
	jobList list.Model
	conn    models.ConnectionState
	report  tasks.PollReport
	status  string
	err     error
	spinner spinner.Model
	help    help.Model
	keys    keyMap
}

// NewModel creates a dashboard over a started engine. reports should be the channel passed to the engine
// as [tasks.EngineOptions.Progress]; it may be nil.
func NewModel(ctx context.Context, engine *tasks.Engine, reports <-chan tasks.PollReport) *Model {
	jobList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	jobList.Title = "Jobs"
	jobList.SetShowHelp(false)

	return &Model{
		ctx:     ctx,
		engine:  engine,
		reports: reports,
		updates: make(chan Msg, 32),
		now:     time.Now,
		jobList: jobList,
		conn:    engine.Connection(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Init subscribes to store and connection changes and starts listening for updates.
func (m *Model) Init() tea.Cmd {
	m.unsubscribe = append(m.unsubscribe,
		m.engine.Store().Subscribe(func(jobs.Change) { m.notify(jobsChangedMsg()) }),
		m.engine.Channel().OnStateChange(func(s models.ConnectionState) { m.notify(connectionChangedMsg(s)) }),
	)
	m.reloadJobs()

	return tea.Batch(m.spinner.Tick, m.waitForUpdate(), m.waitForReport())
}

// Close removes the subscriptions made in Init.
func (m *Model) Close() {
	for _, fn := range m.unsubscribe {
		fn()
	}
	m.unsubscribe = nil
}

// notify forwards msg without blocking the publisher. Dropped messages are harmless: every kind re-reads
// current state when handled.
func (m *Model) notify(msg Msg) {
	select {
	case m.updates <- msg:
	default:
	}
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobList.SetSize(msg.Width-4, msg.Height-10)
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.jobList, cmd = m.jobList.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgJobsChanged:
		m.reloadJobs()
		return m, m.waitForUpdate()

	case MsgConnectionChanged:
		m.conn = m.engine.Connection()
		return m, m.waitForUpdate()

	case MsgPollReport:
		m.report = msg.data.(tasks.PollReport)
		return m, m.waitForReport()

	case MsgPublished:
		data := msg.data.(struct {
			job models.Job
			err error
		})
		m.err = data.err
		if data.err == nil {
			m.status = fmt.Sprintf("published #%s to %s", data.job.JobID, data.job.Platform)
		}
		return m, nil

	case MsgStatus:
		m.status = msg.data.(string)
		m.err = nil
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.jobList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.jobList, cmd = m.jobList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.poll):
		m.status = "polling..."
		return m, m.pollNow()
	case key.Matches(msg, m.keys.reconnect):
		m.status = "reconnecting..."
		return m, m.reconnect()
	case key.Matches(msg, m.keys.publish):
		if item, ok := m.jobList.SelectedItem().(jobItem); ok {
			m.status = fmt.Sprintf("publishing %q...", item.job.Title)
			return m, m.publish(item.job)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.jobList, cmd = m.jobList.Update(msg)
	return m, cmd
}

func (m *Model) reloadJobs() {
	all := m.engine.Store().List()
	m.jobList.SetItems(jobItems(models.GroupByDate(all)))
	if summary := formatter.Summarize(all); summary != "" {
		m.jobList.Title = "Jobs • " + summary
	} else {
		m.jobList.Title = "Jobs"
	}
}

func (m *Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.updates:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) waitForReport() tea.Cmd {
	if m.reports == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case report, ok := <-m.reports:
			if !ok {
				return nil
			}
			return pollReportMsg(report)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) pollNow() tea.Cmd {
	return func() tea.Msg {
		report := m.engine.Poller().PollNow(m.ctx)
		if report.Err != nil {
			return statusMsg(fmt.Sprintf("poll failed: %v", report.Err))
		}
		return statusMsg(fmt.Sprintf("polled: %d results, %d queued", report.Fetched, report.Queued))
	}
}

func (m *Model) reconnect() tea.Cmd {
	return func() tea.Msg {
		m.engine.Channel().Reconnect(m.ctx)
		return statusMsg("reconnect requested")
	}
}

func (m *Model) publish(job models.Job) tea.Cmd {
	return func() tea.Msg {
		published, err := m.engine.Publish(m.ctx, job.TempID, "")
		return publishedMsg(published, err)
	}
}

// View renders the connection header, the job list and help.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(styles.title.Render("csync"))
	b.WriteString("\n")
	b.WriteString(styles.box.Render(m.renderHealth()))
	b.WriteString("\n\n")
	b.WriteString(m.jobList.View())
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	case m.status != "":
		b.WriteString(styles.help.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderHealth() string {
	return fmt.Sprintf("%s\n%s", m.renderConnection(), m.renderReport())
}

func (m *Model) renderConnection() string {
	var line string
	switch m.conn.Phase {
	case models.PhaseOpen:
		line = styles.ok.Render("● live")
	case models.PhaseConnecting:
		line = fmt.Sprintf("%s %s", m.spinner.View(), styles.warn.Render("connecting"))
	case models.PhaseReconnecting:
		line = fmt.Sprintf("%s %s", m.spinner.View(), styles.warn.Render(fmt.Sprintf("reconnecting (attempt %d)", m.conn.Attempt)))
	case models.PhaseFailed:
		line = styles.err.Render(fmt.Sprintf("✕ push failed after %d attempts, polling only", m.conn.Attempt))
	default:
		line = styles.help.Render("○ offline")
	}

	if !m.conn.LastEventAt.IsZero() {
		line += styles.help.Render(fmt.Sprintf("  last event %s ago", since(m.now(), m.conn.LastEventAt)))
	}
	return line
}

func (m *Model) renderReport() string {
	r := m.report
	if r.At.IsZero() {
		return styles.help.Render("no poll yet")
	}
	if r.Err != nil {
		return styles.warn.Render(fmt.Sprintf("poll at %s failed: %v", r.At.Format(time.TimeOnly), r.Err))
	}

	line := fmt.Sprintf("poll at %s: %d results, %d queued", r.At.Format(time.TimeOnly), r.Fetched, r.Queued)
	if r.TimedOut > 0 {
		line += styles.warn.Render(fmt.Sprintf(", %d timed out", r.TimedOut))
	}
	return line
}

func since(now, t time.Time) time.Duration {
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second)
}
