package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/csync/internal/jobs"
	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/shared"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultMaxAttempts    = 5
	DefaultTokenParam     = "token"
)

// Dispatcher accepts job commands. [jobs.Store] implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd jobs.Command) error
}

// TokenSource provides the bearer value sent as a query parameter.
type TokenSource interface {
	AccessToken() string
}

// Config describes where and how to connect.
type Config struct {
	URL            string // Absolute stream endpoint
	TokenParam     string
	ReconnectDelay time.Duration
	MaxAttempts    int
}

// NewConfig builds a [Config] from the backend base URL and the [events] config section.
func NewConfig(baseURL string, cfg shared.EventsConfig) Config {
	return Config{
		URL:            strings.TrimRight(baseURL, "/") + cfg.Path,
		TokenParam:     cfg.TokenParam,
		ReconnectDelay: cfg.ReconnectDelay,
		MaxAttempts:    cfg.MaxAttempts,
	}
}

type stateListener struct {
	id int
	fn func(models.ConnectionState)
}

// Channel is the push connection. It is safe for concurrent use.
type Channel struct {
	cfg    Config
	client *http.Client
	tokens TokenSource
	sink   Dispatcher
	logger *log.Logger
	now    func() time.Time

	// lifecycle serializes Connect, Disconnect and Reconnect.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	state     models.ConnectionState
	listeners []stateListener
	nextID    int
}

// NewChannel creates a closed [Channel]. The client must not carry an overall timeout, since
// the stream stays open indefinitely; nil uses a fresh [http.Client].
func NewChannel(cfg Config, client *http.Client, tokens TokenSource, sink Dispatcher, logger *log.Logger) *Channel {
	if cfg.TokenParam == "" {
		cfg.TokenParam = DefaultTokenParam
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Channel{
		cfg:    cfg,
		client: client,
		tokens: tokens,
		sink:   sink,
		logger: shared.WithLogger(logger, "component", "events"),
		now:    time.Now,
	}
}

// State returns the current connection health.
func (c *Channel) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers fn for health updates and returns a function that removes it. fn runs
// on the channel's goroutine and must not call Connect, Disconnect or Reconnect.
func (c *Channel) OnStateChange(fn func(models.ConnectionState)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, stateListener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Connect starts the connection loop unless it is already running. The loop lives until
// [Channel.Disconnect], ctx cancellation, or the attempt budget running out.
func (c *Channel) Connect(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.running() {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	c.setState(func(s *models.ConnectionState) {
		s.Phase = models.PhaseConnecting
		s.Attempt = 0
	})

	go c.run(ctx, done)
}

// Disconnect closes the connection and cancels any pending reconnect. It returns after the loop
// has exited and is safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stop()
}

// Reconnect tears down any current loop and starts a fresh one with the attempt counter at zero.
func (c *Channel) Reconnect(ctx context.Context) {
	c.lifecycle.Lock()
	c.stop()
	c.lifecycle.Unlock()

	c.Connect(ctx)
}

func (c *Channel) stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel, c.done = nil, nil
	}
	if c.State().Phase != models.PhaseClosed {
		c.setState(func(s *models.ConnectionState) {
			s.Phase = models.PhaseClosed
			s.Attempt = 0
		})
		c.logger.Debug("disconnected")
	}
}

// running reports whether the loop goroutine is alive. Callers hold lifecycle.
func (c *Channel) running() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		err := c.stream(ctx, &attempt)
		if ctx.Err() != nil {
			return
		}

		failures := attempt + 1
		if failures >= c.cfg.MaxAttempts {
			c.logger.Error("giving up on event stream", "attempts", failures, "error", err)
			c.setState(func(s *models.ConnectionState) {
				s.Phase = models.PhaseFailed
				s.Attempt = failures
			})
			return
		}

		attempt = failures
		c.logger.Warn("event stream lost", "attempt", attempt, "retry_in", c.cfg.ReconnectDelay, "error", err)
		c.setState(func(s *models.ConnectionState) {
			s.Phase = models.PhaseReconnecting
			s.Attempt = attempt
		})

		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c.setState(func(s *models.ConnectionState) {
			s.Phase = models.PhaseConnecting
		})
	}
}

// stream holds one connection open until it fails. attempt is reset once the stream opens.
func (c *Channel) stream(ctx context.Context, attempt *int) error {
	token := c.tokens.AccessToken()
	if token == "" {
		return shared.ErrNotAuthenticated
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid event stream url: %w", err)
	}
	q := u.Query()
	q.Set(c.cfg.TokenParam, token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: event stream returned %d", shared.ErrAPIRequest, resp.StatusCode)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		return fmt.Errorf("%w: unexpected content type %q", shared.ErrAPIRequest, mt)
	}

	*attempt = 0
	c.setState(func(s *models.ConnectionState) {
		s.Phase = models.PhaseOpen
		s.Attempt = 0
	})
	c.logger.Info("event stream open")

	reader := newStreamReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("event stream closed by server")
			}
			return err
		}
		c.handle(ctx, ev)
	}
}

func (c *Channel) handle(ctx context.Context, ev event) {
	c.touch()

	frame, err := Decode(ev.Name, ev.Data)
	if err != nil {
		c.logger.Warn("dropping event frame", "event", ev.Name, "error", err)
		return
	}

	switch f := frame.(type) {
	case Ping:
	case Init:
		c.logger.Debug("event stream initialized", "client_id", f.ClientID, "message", f.Message)
	case JobReady:
		cmd := jobs.Command{ID: f.Target(), Target: models.Ready, Source: "events"}
		if err := c.sink.Dispatch(ctx, cmd); err != nil {
			c.logger.Warn("failed to queue job-ready", "id", cmd.ID, "error", err)
		}
	}
}

// touch advances lastEventAt; it never moves backwards.
func (c *Channel) touch() {
	now := c.now()
	c.setState(func(s *models.ConnectionState) {
		if now.After(s.LastEventAt) {
			s.LastEventAt = now
		}
	})
}

func (c *Channel) setState(update func(*models.ConnectionState)) {
	c.mu.Lock()
	before := c.state
	update(&c.state)
	after := c.state
	listeners := make([]stateListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	if before == after {
		return
	}
	for _, l := range listeners {
		l.fn(after)
	}
}
