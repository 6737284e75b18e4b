package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/csync/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// Refresher obtains a new access credential from the backend's refresh endpoint.
type Refresher interface {
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// RefresherFunc adapts a function to [Refresher].
type RefresherFunc func(ctx context.Context) (*oauth2.Token, error)

func (f RefresherFunc) Refresh(ctx context.Context) (*oauth2.Token, error) {
	return f(ctx)
}

// Transport attaches the credential held by a [TokenStore] and refreshes it on 401/403.
type Transport struct {
	base      http.RoundTripper
	store     *TokenStore
	refresher Refresher
	logger    *log.Logger
	group     singleflight.Group
}

// NewTransport wraps base (nil means [http.DefaultTransport]).
func NewTransport(store *TokenStore, refresher Refresher, base http.RoundTripper, logger *log.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:      base,
		store:     store,
		refresher: refresher,
		logger:    shared.WithLogger(logger, "component", "transport"),
	}
}

// RoundTrip implements [http.RoundTripper].
//
// An unauthorized response is retried at most once, after the shared refresh has settled. When the
// refresh fails the original response is returned untouched.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	sent := t.store.AccessToken()

	resp, err := t.send(req, req.Body, sent)
	if err != nil {
		return nil, err
	}
	if !unauthorized(resp.StatusCode) {
		return resp, nil
	}

	token, err := t.renew(req.Context(), sent)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			discard(resp)
			return nil, ctxErr
		}
		t.logger.Debug("returning unauthorized response", "url", req.URL.Path, "status", resp.StatusCode, "error", err)
		return resp, nil
	}

	body, ok := rewind(req)
	if !ok {
		t.logger.Warn("request body cannot be replayed", "url", req.URL.Path)
		return resp, nil
	}

	discard(resp)
	return t.send(req, body, token)
}

// renew returns the credential to retry with. A credential that changed since the request was sent
// is reused; otherwise the caller joins (or starts) the single in-flight refresh.
func (t *Transport) renew(ctx context.Context, sent string) (string, error) {
	if token, done, err := t.settled(sent); done {
		return token, err
	}

	ch := t.group.DoChan(refreshKey, func() (any, error) {
		if token, done, err := t.settled(sent); done {
			return token, err
		}
		return t.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// settled reports whether the store moved on from sent. A cleared store means a refresh already
// failed (or the user logged out) and no new refresh is attempted for this request.
func (t *Transport) settled(sent string) (string, bool, error) {
	current := t.store.AccessToken()
	switch {
	case current == sent:
		return "", false, nil
	case current == "":
		return "", true, shared.ErrReauthRequired
	default:
		return current, true, nil
	}
}

func (t *Transport) refresh(ctx context.Context) (string, error) {
	t.logger.Debug("refreshing access token")

	token, err := t.refresher.Refresh(ctx)
	if err == nil && (token == nil || token.AccessToken == "") {
		err = fmt.Errorf("%w: empty token", shared.ErrRefreshFailed)
	}
	if err != nil {
		t.logger.Warn("token refresh failed", "error", err)
		t.store.Set(nil)
		return "", err
	}

	t.store.Set(token)
	t.logger.Info("access token refreshed")
	return token.AccessToken, nil
}

// send clones req so the caller's request is never mutated.
func (t *Transport) send(req *http.Request, body io.ReadCloser, token string) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Body = body
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(r)
	} else {
		r.Header.Del("Authorization")
	}
	return t.base.RoundTrip(r)
}

func rewind(req *http.Request) (io.ReadCloser, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Body, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	return body, true
}

func unauthorized(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func discard(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
