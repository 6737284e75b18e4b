package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertthunder/csync/internal/models"
)

// FakeBackend is an httptest server speaking the job backend's API: login/refresh/logout,
// job submission and publishing, completed results and the event stream.
type FakeBackend struct {
	Server     *httptest.Server
	CookieName string
	Session    string

	mu          sync.Mutex
	token       string
	seq         int
	nextJobID   int
	results     []models.Result
	streams     map[*fakeStream]struct{}
	failRefresh bool
	failSubmit  string
	failResults bool
	eventStatus int

	refreshes atomic.Int32
	connects  atomic.Int32
	polls     atomic.Int32
	submits   atomic.Int32

	shutdown  chan struct{}
	closeOnce sync.Once
}

type fakeStream struct {
	frames chan string
	kill   chan struct{}
}

// NewFakeBackend starts a backend accepting session cookie "session=s3cret".
func NewFakeBackend() *FakeBackend {
	b := &FakeBackend{
		CookieName: "session",
		Session:    "s3cret",
		nextJobID:  41,
		streams:    make(map[*fakeStream]struct{}),
		shutdown:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", b.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", b.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", b.handleLogout)
	mux.HandleFunc("POST /api/jobs", b.handleSubmit)
	mux.HandleFunc("POST /api/jobs/{id}/publish", b.handlePublish)
	mux.HandleFunc("GET /api/results", b.handleResults)
	mux.HandleFunc("GET /api/events", b.handleEvents)
	b.Server = httptest.NewServer(mux)
	return b
}

// URL is the server base URL.
func (b *FakeBackend) URL() string { return b.Server.URL }

// Close ends open event streams and shuts the server down.
func (b *FakeBackend) Close() {
	b.closeOnce.Do(func() { close(b.shutdown) })
	b.Server.Close()
}

// Token returns the currently valid access token.
func (b *FakeBackend) Token() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

// Issue mints and returns a new valid access token, invalidating the previous one.
func (b *FakeBackend) Issue() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueLocked()
}

// Expire invalidates the current access token without issuing a new one.
func (b *FakeBackend) Expire() {
	b.mu.Lock()
	b.token = ""
	b.mu.Unlock()
}

// FailRefresh makes the refresh endpoint answer 401.
func (b *FakeBackend) FailRefresh(fail bool) {
	b.mu.Lock()
	b.failRefresh = fail
	b.mu.Unlock()
}

// FailSubmit makes job submission answer 422 with detail. An empty detail restores success.
func (b *FakeBackend) FailSubmit(detail string) {
	b.mu.Lock()
	b.failSubmit = detail
	b.mu.Unlock()
}

// FailResults makes the results endpoint answer 500.
func (b *FakeBackend) FailResults(fail bool) {
	b.mu.Lock()
	b.failResults = fail
	b.mu.Unlock()
}

// RejectEvents makes the event endpoint answer status. Zero restores streaming.
func (b *FakeBackend) RejectEvents(status int) {
	b.mu.Lock()
	b.eventStatus = status
	b.mu.Unlock()
}

// Complete records a completed result for jobID.
func (b *FakeBackend) Complete(jobID, title string, at time.Time) {
	b.mu.Lock()
	b.results = append(b.results, models.Result{JobID: jobID, Title: title, CompletedAt: at})
	b.mu.Unlock()
}

// Push writes a raw SSE frame (event name and data) to every open stream.
func (b *FakeBackend) Push(event, data string) {
	var frame strings.Builder
	if event != "" {
		fmt.Fprintf(&frame, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&frame, "data: %s\n", line)
	}
	frame.WriteString("\n")

	b.mu.Lock()
	streams := make([]*fakeStream, 0, len(b.streams))
	for s := range b.streams {
		streams = append(streams, s)
	}
	b.mu.Unlock()

	for _, s := range streams {
		select {
		case s.frames <- frame.String():
		case <-s.kill:
		case <-time.After(time.Second):
		}
	}
}

// DropStreams closes every open event stream from the server side.
func (b *FakeBackend) DropStreams() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.streams {
		close(s.kill)
		delete(b.streams, s)
	}
}

// Streams returns the number of open event streams.
func (b *FakeBackend) Streams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

func (b *FakeBackend) Refreshes() int { return int(b.refreshes.Load()) }
func (b *FakeBackend) Connects() int  { return int(b.connects.Load()) }
func (b *FakeBackend) Polls() int     { return int(b.polls.Load()) }
func (b *FakeBackend) Submits() int   { return int(b.submits.Load()) }

func (b *FakeBackend) issueLocked() string {
	b.seq++
	b.token = "tok-" + strconv.Itoa(b.seq)
	return b.token
}

func (b *FakeBackend) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	defer b.mu.Unlock()
	return ok && b.token != "" && token == b.token
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (b *FakeBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid credentials"})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: b.CookieName, Value: b.Session, Path: "/"})
	writeJSON(w, http.StatusOK, map[string]string{"access_token": b.Issue()})
}

func (b *FakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshes.Add(1)

	cookie, err := r.Cookie(b.CookieName)
	b.mu.Lock()
	fail := b.failRefresh
	b.mu.Unlock()
	if fail || err != nil || cookie.Value != b.Session {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "session expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": b.Issue()})
}

func (b *FakeBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.Expire()
	w.WriteHeader(http.StatusNoContent)
}

func (b *FakeBackend) handleSubmit(w http.ResponseWriter, r *http.Request) {
	b.submits.Add(1)
	if !b.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	b.mu.Lock()
	detail := b.failSubmit
	b.nextJobID++
	id := b.nextJobID
	b.mu.Unlock()

	if detail != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": detail})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job_id": id})
}

func (b *FakeBackend) handlePublish(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": r.PathValue("id"), "status": "uploaded"})
}

func (b *FakeBackend) handleResults(w http.ResponseWriter, r *http.Request) {
	b.polls.Add(1)
	if !b.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	b.mu.Lock()
	fail := b.failResults
	results := make([]models.Result, 0, len(b.results))
	after, _ := time.Parse(time.RFC3339Nano, r.URL.Query().Get("after"))
	for _, res := range b.results {
		if res.CompletedAt.After(after) {
			results = append(results, res)
		}
	}
	b.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (b *FakeBackend) handleEvents(w http.ResponseWriter, r *http.Request) {
	b.connects.Add(1)

	b.mu.Lock()
	status := b.eventStatus
	valid := b.token != "" && r.URL.Query().Get("token") == b.token
	b.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !valid {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	stream := &fakeStream{frames: make(chan string, 16), kill: make(chan struct{})}
	b.mu.Lock()
	b.streams[stream] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.streams, stream)
		b.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\nevent: init\ndata: {\"message\":\"connected\"}\n\n")
	flusher.Flush()

	for {
		select {
		case frame := <-stream.frames:
			fmt.Fprint(w, frame)
			flusher.Flush()
		case <-stream.kill:
			return
		case <-b.shutdown:
			return
		case <-r.Context().Done():
			return
		}
	}
}
