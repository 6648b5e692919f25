package service

import (
	"context"
	"errors"
	"time"

	"github.com/bugrelay/auth-service/internal/repository"
)

// SessionView is the device-facing projection of a session record.
type SessionView struct {
	ID         string    `json:"id"`
	UserAgent  string    `json:"user_agent"`
	IP         string    `json:"ip"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsCurrent  bool      `json:"is_current"`
}

// SessionService backs the "your devices" surface: list active sessions
// and revoke one remotely.
type SessionService struct {
	sessions repository.SessionRepository
	tokens   *TokenService
}

func NewSessionService(sessions repository.SessionRepository, tokens *TokenService) *SessionService {
	return &SessionService{sessions: sessions, tokens: tokens}
}

// ListForUser returns the principal's active sessions, marking the one
// the presented token belongs to.
func (s *SessionService) ListForUser(ctx context.Context, userID, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.sessions.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, ErrServiceUnavailable
	}
	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, SessionView{
			ID:         sess.ID,
			UserAgent:  sess.UserAgent,
			IP:         sess.IP,
			CreatedAt:  sess.CreatedAt,
			LastUsedAt: sess.LastUsedAt,
			ExpiresAt:  sess.ExpiresAt,
			IsCurrent:  sess.ID == currentSessionID,
		})
	}
	return views, nil
}

// Revoke ends one of the principal's sessions and invalidates its
// current refresh token.
func (s *SessionService) Revoke(ctx context.Context, userID, sessionID string) error {
	if err := s.tokens.RevokeSessionByID(ctx, userID, sessionID, "revoked_by_user"); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return repository.ErrSessionNotFound
		}
		return err
	}
	return nil
}
