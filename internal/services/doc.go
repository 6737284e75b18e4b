// Package services is the HTTP client for the job backend.
//
// [Client] owns two [http.Client]s. The API client routes through [auth.Transport], so every call
// carries the bearer token and recovers from a 401/403 with one shared refresh. The raw client is
// used for the refresh and login endpoints themselves and never triggers a refresh.
//
// # Endpoints
//
//   - POST /api/auth/login, /api/auth/refresh, /api/auth/logout
//   - POST /api/jobs : submit, answers {"job_id": ...}
//   - POST /api/jobs/{id}/publish
//   - GET /api/results?after=RFC3339 : completed results
//
// The event stream (/api/events) lives in package events.
//
// # Error Handling
//
// Non-2xx answers become [*APIError], which unwraps to:
//   - [shared.ErrReauthRequired] : still unauthorized after the transport's refresh and retry
//   - [shared.ErrServiceUnavailable] : 502, 503 or 504
//   - [shared.ErrAPIRequest] : anything else
//
// All requests wait on a [rate.Limiter] configured by api.rate_limit.
package services
