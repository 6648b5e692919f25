package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is one device's continuously-rotating refresh-token chain.
// CurrentTokenID always holds the JTI of the only refresh token that is
// valid for this chain; rotation swaps it in place. Sessions are marked
// revoked, never deleted, so the registry doubles as an audit trail.
type Session struct {
	ID             string     `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         string     `gorm:"type:uuid;index:idx_sessions_user_active;not null" json:"user_id"`
	CurrentTokenID string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserAgent      string     `gorm:"size:512" json:"user_agent"`
	IP             string     `gorm:"size:64" json:"ip"`
	ExpiresAt      time.Time  `gorm:"index;not null" json:"expires_at"`
	LastUsedAt     time.Time  `json:"last_used_at"`
	RevokedAt      *time.Time `gorm:"index:idx_sessions_user_active" json:"revoked_at,omitempty"`
	RevokedReason  *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"-"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.LastUsedAt.IsZero() {
		s.LastUsedAt = time.Now().UTC()
	}
	return nil
}

// Active reports whether the session can still rotate tokens.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}
