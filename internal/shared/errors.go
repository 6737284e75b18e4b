package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrReauthRequired   = fmt.Errorf("session expired, please log in again")
	ErrNoSession        = fmt.Errorf("no stored session")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Job lifecycle errors
	ErrUnknownJob        = fmt.Errorf("unknown job")
	ErrJobConflict       = fmt.Errorf("job id already bound")
	ErrInvalidTransition = fmt.Errorf("invalid job transition")

	// Push channel errors
	ErrUnknownFrame   = fmt.Errorf("unknown event frame")
	ErrMalformedFrame = fmt.Errorf("malformed event frame")

	// Persistence errors
	ErrSnapshotNotFound = fmt.Errorf("snapshot not found")
	ErrSnapshotVersion  = fmt.Errorf("unsupported snapshot version")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
