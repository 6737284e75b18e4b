// Package auth holds the process credential and the transport that keeps it fresh.
//
// # Token Store
//
// [TokenStore] is the single writer of the access credential. Every [TokenStore.Set] fans out to
// subscribers synchronously, in subscription order. It implements [oauth2.TokenSource].
//
// # Transport
//
// [Transport] is an [http.RoundTripper] that attaches the bearer token and, when the backend
// answers 401 or 403, drives one shared refresh for every request that failed in the same burst
// (golang.org/x/sync/singleflight), then retries each request exactly once.
//
// If the refresh fails the store is cleared and callers get the original unauthorized response,
// which higher layers map to [shared.ErrReauthRequired].
package auth
