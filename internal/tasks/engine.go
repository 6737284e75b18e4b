package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/csync/internal/auth"
	"github.com/desertthunder/csync/internal/events"
	"github.com/desertthunder/csync/internal/jobs"
	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/services"
	"github.com/desertthunder/csync/internal/shared"
	"golang.org/x/oauth2"
)

// EngineOptions carries the optional collaborators of an [Engine].
type EngineOptions struct {
	Persister jobs.Persister // Job snapshot and poll cursor storage; nil keeps everything in memory
	Transport http.RoundTripper
	Progress  chan<- PollReport
	Logger    *log.Logger
}

// Engine owns the sync components and their lifecycle.
type Engine struct {
	tokens  *auth.TokenStore
	client  *services.Client
	store   *jobs.Store
	channel *events.Channel
	poller  *Poller
	logger  *log.Logger

	mu          sync.Mutex
	running     bool
	cancelRun   context.CancelFunc
	cancelStore context.CancelFunc
	watcher     sync.WaitGroup
	storeDone   chan struct{}
	unsubscribe func()
	wake        chan struct{}
}

// NewEngine builds every component from cfg. Nothing runs until [Engine.Start].
func NewEngine(cfg *shared.Config, opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	tokens := auth.NewTokenStore()
	client := services.NewClient(cfg.API, tokens, opts.Transport, logger)
	store := jobs.NewStore(jobs.Options{
		Persister: opts.Persister,
		Retention: cfg.Store.Retention,
		Logger:    logger,
	})

	streamClient := &http.Client{Transport: opts.Transport}
	channel := events.NewChannel(events.NewConfig(client.BaseURL(), cfg.Events), streamClient, tokens, store, logger)

	poller := NewPoller(client, store, PollerOptions{
		Interval:   cfg.Poller.Interval,
		JobTimeout: cfg.Poller.JobTimeout,
		Lookback:   cfg.Poller.Lookback,
		Cursor:     opts.Persister,
		Progress:   opts.Progress,
		Logger:     logger,
	})

	return &Engine{
		tokens:  tokens,
		client:  client,
		store:   store,
		channel: channel,
		poller:  poller,
		logger:  shared.WithLogger(logger, "component", "engine"),
		wake:    make(chan struct{}, 1),
	}
}

func (e *Engine) Tokens() *auth.TokenStore { return e.tokens }
func (e *Engine) Client() *services.Client { return e.client }
func (e *Engine) Store() *jobs.Store       { return e.store }
func (e *Engine) Channel() *events.Channel { return e.channel }
func (e *Engine) Poller() *Poller          { return e.poller }

// Connection returns the push channel's health.
func (e *Engine) Connection() models.ConnectionState {
	return e.channel.State()
}

// Start restores persisted state and starts the background components. If no credential is held
// but a session is, the credential is bootstrapped from it; a failed bootstrap is returned wrapped
// in [shared.ErrReauthRequired] while the engine keeps running offline.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	if err := e.store.Restore(ctx); err != nil {
		e.logger.Warn("starting with an empty job store", "error", err)
	}
	if err := e.poller.LoadCursor(ctx); err != nil {
		e.logger.Warn("starting with an empty poll cursor", "error", err)
	}

	base := context.WithoutCancel(ctx)
	runCtx, cancelRun := context.WithCancel(base)
	storeCtx, cancelStore := context.WithCancel(base)
	storeDone := make(chan struct{})

	e.mu.Lock()
	e.cancelRun, e.cancelStore, e.storeDone = cancelRun, cancelStore, storeDone
	e.unsubscribe = e.tokens.Subscribe(func(*oauth2.Token) { e.signal() })
	e.mu.Unlock()

	go func() {
		defer close(storeDone)
		e.store.Run(storeCtx)
	}()

	e.watcher.Add(1)
	go func() {
		defer e.watcher.Done()
		e.watch(runCtx)
	}()

	var bootErr error
	if e.tokens.Get() == nil && e.client.Session() != "" {
		if err := e.client.Bootstrap(ctx); err != nil {
			bootErr = fmt.Errorf("%w: %v", shared.ErrReauthRequired, err)
		}
	}

	e.signal()
	e.logger.Info("engine started", "jobs", len(e.store.List()))
	return bootErr
}

// Stop disconnects the channel, stops the poller, then drains and stops the store queue. Safe to
// call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	unsubscribe, cancelRun, cancelStore, storeDone := e.unsubscribe, e.cancelRun, e.cancelStore, e.storeDone
	e.unsubscribe, e.cancelRun, e.cancelStore, e.storeDone = nil, nil, nil, nil
	e.mu.Unlock()

	unsubscribe()
	cancelRun()
	e.watcher.Wait()

	e.channel.Disconnect()
	e.poller.Stop()

	cancelStore()
	<-storeDone
	e.logger.Info("engine stopped")
}

// signal wakes the watcher. Wakeups coalesce; the watcher always reads the latest credential.
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) watch(ctx context.Context) {
	active := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		}

		token := e.tokens.AccessToken()
		switch {
		case token == "" && active != "":
			e.logger.Warn("credential cleared, going offline")
			e.channel.Disconnect()
			e.poller.Stop()
			active = ""
		case token != "" && active == "":
			e.logger.Info("credential available, going online")
			e.channel.Reconnect(ctx)
			e.poller.Start(ctx)
			active = token
		case token != "" && token != active:
			if phase := e.channel.State().Phase; phase == models.PhaseFailed || phase == models.PhaseClosed {
				e.channel.Reconnect(ctx)
			}
			active = token
		}
	}
}

// Submit records a PENDING job, submits it, then binds the server id and promotes it to
// PROCESSING. An explicit rejection from the backend fails the job; transport trouble leaves it
// PENDING for the timeout sweep.
func (e *Engine) Submit(ctx context.Context, req models.JobRequest) (models.Job, error) {
	tempID := e.store.CreatePending(req)

	jobID, err := e.client.SubmitJob(ctx, req)
	if err != nil {
		var apiErr *services.APIError
		if errors.As(err, &apiErr) && errors.Is(err, shared.ErrAPIRequest) {
			e.store.Transition(tempID, models.Failed)
		}
		job, _ := e.store.Get(tempID)
		return job, fmt.Errorf("failed to submit job: %w", err)
	}

	if err := e.store.BindServerID(tempID, jobID); err != nil {
		job, _ := e.store.Get(tempID)
		return job, err
	}
	e.store.Transition(tempID, models.Processing)

	job, _ := e.store.Get(tempID)
	return job, nil
}

// Publish uploads a READY job to platform and marks it UPLOADED.
func (e *Engine) Publish(ctx context.Context, id string, platform models.Platform) (models.Job, error) {
	job, ok := e.store.Get(id)
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", shared.ErrUnknownJob, id)
	}
	if job.State != models.Ready {
		return job, fmt.Errorf("%w: job %s is %s, not READY", shared.ErrInvalidTransition, id, job.State)
	}
	if job.JobID == "" {
		return job, fmt.Errorf("%w: job %s has no server id", shared.ErrInvalidTransition, id)
	}
	if platform == "" {
		platform = job.Platform
	}

	if err := e.client.PublishJob(ctx, job.JobID, platform); err != nil {
		return job, fmt.Errorf("failed to publish job: %w", err)
	}

	e.store.Transition(id, models.Uploaded)
	job, _ = e.store.Get(id)
	return job, nil
}

// Logout ends the session. The credential is cleared even if the backend call fails, which
// takes the channel and poller offline.
func (e *Engine) Logout(ctx context.Context) error {
	return e.client.Logout(ctx)
}
