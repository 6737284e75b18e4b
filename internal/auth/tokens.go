package auth

import (
	"sync"

	"github.com/desertthunder/csync/internal/shared"
	"golang.org/x/oauth2"
)

// Listener is called with the new credential (nil when cleared).
type Listener func(token *oauth2.Token)

type subscription struct {
	id int
	fn Listener
}

// TokenStore holds the current access credential in memory.
type TokenStore struct {
	mu        sync.RWMutex
	token     *oauth2.Token
	listeners []subscription
	nextID    int

	// notifyMu serializes fan-out so concurrent setters cannot interleave notifications.
	notifyMu sync.Mutex
}

// NewTokenStore creates an empty [TokenStore].
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Set replaces the credential and notifies subscribers. An empty access token clears it.
func (s *TokenStore) Set(token *oauth2.Token) {
	if token != nil && token.AccessToken == "" {
		token = nil
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.token = token
	listeners := make([]subscription, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(token)
	}
}

// Get returns the current credential, or nil.
func (s *TokenStore) Get() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// AccessToken returns the raw bearer value, or "" when no credential is held.
func (s *TokenStore) AccessToken() string {
	if t := s.Get(); t != nil {
		return t.AccessToken
	}
	return ""
}

// Token implements [oauth2.TokenSource].
func (s *TokenStore) Token() (*oauth2.Token, error) {
	if t := s.Get(); t != nil {
		return t, nil
	}
	return nil, shared.ErrNotAuthenticated
}

// Subscribe registers fn for credential changes and returns a function that removes it.
// Unsubscribing twice is harmless.
func (s *TokenStore) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, subscription{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}
