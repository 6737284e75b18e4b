package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/csync/internal/shared"
)

const (
	SessionKey     = "auth.session"
	sessionVersion = 1
)

// Session is the long-lived backend session the refresh endpoint exchanges for access tokens.
type Session struct {
	Cookie    string    `json:"cookie"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRepository persists the single stored [Session].
type SessionRepository struct {
	snapshots *SnapshotRepository
}

func NewSessionRepository(snapshots *SnapshotRepository) *SessionRepository {
	return &SessionRepository{snapshots: snapshots}
}

// Save replaces the stored session.
func (r *SessionRepository) Save(ctx context.Context, s Session) error {
	if s.Cookie == "" {
		return fmt.Errorf("%w: session cookie is empty", shared.ErrInvalidInput)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return r.snapshots.Save(ctx, SessionKey, sessionVersion, data)
}

// Get returns the stored session or [shared.ErrNoSession].
func (r *SessionRepository) Get(ctx context.Context) (*Session, error) {
	version, data, err := r.snapshots.Load(ctx, SessionKey)
	if errors.Is(err, shared.ErrSnapshotNotFound) {
		return nil, shared.ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	if version != sessionVersion {
		return nil, fmt.Errorf("%w: session version %d", shared.ErrSnapshotVersion, version)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

// Clear removes the stored session.
func (r *SessionRepository) Clear(ctx context.Context) error {
	return r.snapshots.Delete(ctx, SessionKey)
}
