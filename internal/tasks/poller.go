package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/csync/internal/jobs"
	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/shared"
)

const (
	// CursorKey namespaces the persisted poll cursor.
	CursorKey     = "poller.cursor"
	cursorVersion = 1

	DefaultPollInterval = 30 * time.Second
	DefaultLookback     = time.Hour
)

// ResultsClient lists completed results. [services.Client] implements it.
type ResultsClient interface {
	CompletedResults(ctx context.Context, after time.Time) ([]models.Result, error)
}

// JobStore is the part of [jobs.Store] the poller needs.
type JobStore interface {
	Reload(ctx context.Context) error
	Get(id string) (models.Job, bool)
	Dispatch(ctx context.Context, cmd jobs.Command) error
	SweepStale(timeout time.Duration) int
}

// PollReport summarizes one reconciliation pass.
type PollReport struct {
	At        time.Time
	Fetched   int       // Results returned by the backend
	Queued    int       // READY commands issued
	Unmatched int       // Results for ids with no local job
	TimedOut  int       // Jobs failed by the timeout sweep
	Cursor    time.Time // Cursor after the pass
	Err       error
}

// PollerOptions configures a [Poller].
type PollerOptions struct {
	Interval   time.Duration
	JobTimeout time.Duration  // Zero disables the sweep
	Lookback   time.Duration  // How long an unmatched result holds the cursor back
	Cursor     jobs.Persister // Optional cursor storage
	Progress   chan<- PollReport
	Logger     *log.Logger
	Now        func() time.Time
}

// Poller periodically reconciles local jobs against the backend's completed results.
type Poller struct {
	client   ResultsClient
	store    JobStore
	opts     PollerOptions
	logger   *log.Logger
	progress chan<- PollReport

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// passMu serializes passes so ticks and PollNow never overlap.
	passMu   sync.Mutex
	cursorMu sync.RWMutex
	cursor   time.Time
	last     PollReport
}

// NewPoller creates a stopped [Poller].
func NewPoller(client ResultsClient, store JobStore, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{
		client:   client,
		store:    store,
		opts:     opts,
		logger:   shared.WithLogger(opts.Logger, "component", "poller"),
		progress: opts.Progress,
	}
}

// LoadCursor restores the persisted cursor. A missing cursor leaves it at zero.
func (p *Poller) LoadCursor(ctx context.Context) error {
	if p.opts.Cursor == nil {
		return nil
	}

	version, data, err := p.opts.Cursor.Load(ctx, CursorKey)
	if errors.Is(err, shared.ErrSnapshotNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load poll cursor: %w", err)
	}
	if version != cursorVersion {
		p.logger.Warn("discarding poll cursor", "version", version)
		return nil
	}

	cursor, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		p.logger.Warn("discarding unreadable poll cursor", "error", err)
		return nil
	}

	p.cursorMu.Lock()
	p.cursor = cursor
	p.cursorMu.Unlock()
	return nil
}

// Cursor returns the completion time of the newest processed result.
func (p *Poller) Cursor() time.Time {
	p.cursorMu.RLock()
	defer p.cursorMu.RUnlock()
	return p.cursor
}

// Last returns the report of the most recent pass.
func (p *Poller) Last() PollReport {
	p.cursorMu.RLock()
	defer p.cursorMu.RUnlock()
	return p.last
}

// Running reports whether the timer loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start runs a pass immediately and then one per interval until [Poller.Stop] or ctx ends.
// Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.wg.Add(1)
	p.mu.Unlock()

	go p.loop(ctx, stopCh)
	p.logger.Debug("poller started", "interval", p.opts.Interval)
}

// Stop halts the timer loop and waits for an in-flight pass to finish. Safe to call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("poller stopped")
}

func (p *Poller) loop(ctx context.Context, stopCh chan struct{}) {
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	p.PollNow(ctx)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.PollNow(ctx)
		}
	}
}

// PollNow runs one reconciliation pass. Errors are logged and reported, never fatal.
//
// The cursor advances to the newest completion, except that a result whose id matches no local
// job holds it just before that result for up to Lookback. A job bound after its result was
// first fetched is then still matched on a later pass.
func (p *Poller) PollNow(ctx context.Context) PollReport {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	report := PollReport{At: p.opts.Now(), Cursor: p.Cursor()}
	defer func() { p.finish(report) }()

	if err := p.store.Reload(ctx); err != nil {
		p.logger.Warn("matching against in-memory jobs only", "error", err)
	}

	results, err := p.client.CompletedResults(ctx, report.Cursor)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("poll failed, skipping", "error", err)
		}
		report.Err = err
		return report
	}
	report.Fetched = len(results)

	horizon := report.At.Add(-p.opts.Lookback)
	next := report.Cursor
	var hold time.Time
	for _, r := range results {
		if r.CompletedAt.After(next) {
			next = r.CompletedAt
		}

		job, ok := p.store.Get(r.JobID)
		if !ok {
			report.Unmatched++
			if r.CompletedAt.After(horizon) && (hold.IsZero() || r.CompletedAt.Before(hold)) {
				hold = r.CompletedAt
			}
			continue
		}
		if !awaitingResult(job) {
			continue
		}

		cmd := jobs.Command{ID: r.JobID, Target: models.Ready, Source: "poller"}
		if err := p.store.Dispatch(ctx, cmd); err != nil {
			p.logger.Warn("failed to queue result", "id", r.JobID, "error", err)
			report.Err = err
			return report
		}
		report.Queued++
	}

	if !hold.IsZero() && !next.Before(hold) {
		next = hold.Add(-time.Nanosecond)
	}
	if next.After(report.Cursor) {
		p.setCursor(ctx, next)
		report.Cursor = next
	}

	if p.opts.JobTimeout > 0 {
		report.TimedOut = p.store.SweepStale(p.opts.JobTimeout)
	}

	if report.Queued > 0 || report.TimedOut > 0 {
		p.logger.Info("reconciled", "fetched", report.Fetched, "queued", report.Queued, "timed_out", report.TimedOut)
	}
	if !hold.IsZero() {
		p.logger.Debug("holding cursor for unmatched results", "unmatched", report.Unmatched, "oldest", hold)
	}
	return report
}

// awaitingResult reports whether a completion for job still means something. A job that timed
// out locally is still promoted by real completion evidence.
func awaitingResult(job models.Job) bool {
	switch job.State {
	case models.Processing, models.Failed:
		return true
	case models.Pending:
		return job.JobID != ""
	default:
		return false
	}
}

func (p *Poller) setCursor(ctx context.Context, cursor time.Time) {
	p.cursorMu.Lock()
	p.cursor = cursor
	p.cursorMu.Unlock()

	if p.opts.Cursor == nil {
		return
	}
	data := []byte(cursor.UTC().Format(time.RFC3339Nano))
	if err := p.opts.Cursor.Save(context.WithoutCancel(ctx), CursorKey, cursorVersion, data); err != nil {
		p.logger.Error("failed to save poll cursor", "error", err)
	}
}

func (p *Poller) finish(report PollReport) {
	p.cursorMu.Lock()
	p.last = report
	p.cursorMu.Unlock()

	if p.progress == nil {
		return
	}
	select {
	case p.progress <- report:
	default:
	}
}
