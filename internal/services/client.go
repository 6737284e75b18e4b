package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/csync/internal/auth"
	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL       = "http://127.0.0.1:8000"
	defaultSessionCookie = "session"

	loginPath   = "/api/auth/login"
	refreshPath = "/api/auth/refresh"
	logoutPath  = "/api/auth/logout"
	jobsPath    = "/api/jobs"
	resultsPath = "/api/results"
)

// APIError is a non-2xx backend answer.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("API error: status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return shared.ErrReauthRequired
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return shared.ErrServiceUnavailable
	default:
		return shared.ErrAPIRequest
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (t tokenResponse) token() (*oauth2.Token, error) {
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%w: response carried no access token", shared.ErrRefreshFailed)
	}
	tok := &oauth2.Token{AccessToken: t.AccessToken, TokenType: t.TokenType}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if t.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// Client talks to the job backend.
type Client struct {
	baseURL    string
	cookieName string
	api        *http.Client
	plain      *http.Client
	tokens     *auth.TokenStore
	limiter    *rate.Limiter
	logger     *log.Logger

	mu      sync.RWMutex
	session string
}

// NewClient builds a client over base (nil means [http.DefaultTransport]).
func NewClient(cfg shared.APIConfig, tokens *auth.TokenStore, base http.RoundTripper, logger *log.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = defaultSessionCookie
	}
	if base == nil {
		base = http.DefaultTransport
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cookieName: cfg.SessionCookie,
		tokens:     tokens,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     shared.WithLogger(logger, "component", "api"),
	}
	c.plain = &http.Client{Transport: base, Timeout: cfg.Timeout}
	c.api = &http.Client{
		Transport: auth.NewTransport(tokens, auth.RefresherFunc(c.Refresh), base, logger),
		Timeout:   cfg.Timeout,
	}
	return c
}

// BaseURL returns the backend root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// SetSession sets the session cookie value sent to the refresh endpoint.
func (c *Client) SetSession(cookie string) {
	c.mu.Lock()
	c.session = cookie
	c.mu.Unlock()
}

// Session returns the current session cookie value.
func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Login exchanges credentials for a session cookie and an access token. The token is stored in
// the [auth.TokenStore]; the returned cookie value is for the caller to persist.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out tokenResponse
	resp, err := c.do(c.plain, req, &out)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}

	session := ""
	for _, ck := range resp.Cookies() {
		if ck.Name == c.cookieName {
			session = ck.Value
		}
	}
	if session == "" {
		return "", fmt.Errorf("%w: login response set no %q cookie", shared.ErrAuthFailed, c.cookieName)
	}

	tok, err := out.token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}

	c.SetSession(session)
	c.tokens.Set(tok)
	c.logger.Info("logged in", "username", username)
	return session, nil
}

// Refresh exchanges the session cookie for a new access token. It does not touch the token
// store; [auth.Transport] and [Client.Bootstrap] decide what to do with the result.
func (c *Client) Refresh(ctx context.Context) (*oauth2.Token, error) {
	session := c.Session()
	if session == "" {
		return nil, shared.ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: c.cookieName, Value: session})

	var out tokenResponse
	if _, err := c.do(c.plain, req, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}
	return out.token()
}

// Bootstrap populates the token store from the session at process start.
func (c *Client) Bootstrap(ctx context.Context) error {
	tok, err := c.Refresh(ctx)
	if err != nil {
		c.tokens.Set(nil)
		return err
	}
	c.tokens.Set(tok)
	return nil
}

// Logout ends the backend session and clears local credentials. The local state is cleared even
// when the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	var err error
	if tok := c.tokens.Get(); tok != nil {
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+logoutPath, nil)
		if err == nil {
			tok.SetAuthHeader(req)
			if session := c.Session(); session != "" {
				req.AddCookie(&http.Cookie{Name: c.cookieName, Value: session})
			}
			_, err = c.do(c.plain, req, nil)
		}
	}

	c.SetSession("")
	c.tokens.Set(nil)
	return err
}

// SubmitJob creates a job on the backend and returns the server-assigned id.
func (c *Client) SubmitJob(ctx context.Context, job models.JobRequest) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+jobsPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		JobID json.RawMessage `json:"job_id"`
	}
	if _, err := c.do(c.api, req, &out); err != nil {
		return "", err
	}

	id, err := parseID(out.JobID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return id, nil
}

// PublishJob asks the backend to upload a finished job to platform.
func (c *Client) PublishJob(ctx context.Context, jobID string, platform models.Platform) error {
	body, err := json.Marshal(map[string]string{"platform": string(platform)})
	if err != nil {
		return err
	}

	endpoint := c.baseURL + jobsPath + "/" + url.PathEscape(jobID) + "/publish"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(c.api, req, nil)
	return err
}

// CompletedResults lists results completed strictly after after. A zero time lists everything.
func (c *Client) CompletedResults(ctx context.Context, after time.Time) ([]models.Result, error) {
	endpoint := c.baseURL + resultsPath
	if !after.IsZero() {
		endpoint += "?" + url.Values{"after": {after.UTC().Format(time.RFC3339Nano)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var out struct {
		Results []struct {
			JobID       json.RawMessage `json:"job_id"`
			Title       string          `json:"title"`
			CompletedAt time.Time       `json:"completed_at"`
		} `json:"results"`
	}
	if _, err := c.do(c.api, req, &out); err != nil {
		return nil, err
	}

	results := make([]models.Result, 0, len(out.Results))
	for _, r := range out.Results {
		id, err := parseID(r.JobID)
		if err != nil {
			c.logger.Warn("skipping result without id", "error", err)
			continue
		}
		results = append(results, models.Result{JobID: id, Title: r.Title, CompletedAt: r.CompletedAt})
	}
	return results, nil
}

// do sends req after waiting on the limiter and decodes a 2xx JSON body into result.
func (c *Client) do(client *http.Client, req *http.Request, result any) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Detail = errResp.Detail
		}
		return resp, apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
			return resp, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return resp, nil
}

// parseID accepts a JSON string or number.
func parseID(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("invalid id: %w", err)
	}
	switch id := v.(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case json.Number:
		return id.String(), nil
	}
	return "", fmt.Errorf("invalid id %s", string(raw))
}
