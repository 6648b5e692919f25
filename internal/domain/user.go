package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MFA delivery methods a principal can have configured.
const (
	MFAMethodTOTP  = "totp"
	MFAMethodEmail = "email"
)

// User is a principal: a password credential, one or more external
// identities, or both. Email is unique across all principals.
type User struct {
	ID          string  `gorm:"type:uuid;primaryKey" json:"id"`
	Email       string  `gorm:"size:255;uniqueIndex;not null" json:"email"`
	DisplayName string  `gorm:"size:100;not null" json:"display_name"`
	AvatarURL   *string `gorm:"size:512" json:"avatar_url,omitempty"`

	PasswordHash  *string `gorm:"size:255" json:"-"`
	IsAdmin       bool    `gorm:"default:false" json:"is_admin"`
	EmailVerified bool    `gorm:"default:false" json:"email_verified"`

	MFAEnabled bool    `gorm:"default:false" json:"mfa_enabled"`
	MFAMethod  string  `gorm:"size:16" json:"-"`
	TOTPSecret *string `gorm:"size:64" json:"-"`

	Identities []ExternalIdentity `gorm:"foreignKey:UserID" json:"-"`
	Sessions   []Session          `gorm:"foreignKey:UserID" json:"-"`

	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"-"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// HasPassword reports whether the principal can authenticate with a
// password at all.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// ExternalIdentity is one (provider, provider id) pair owned by exactly
// one principal. The composite unique index enforces single ownership.
type ExternalIdentity struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	UserID     string  `gorm:"type:uuid;index;not null" json:"user_id"`
	Provider   string  `gorm:"size:32;not null;uniqueIndex:idx_provider_identity" json:"provider"`
	ProviderID string  `gorm:"size:255;not null;uniqueIndex:idx_provider_identity" json:"provider_id"`
	Email      string  `gorm:"size:255" json:"email"`
	Name       string  `gorm:"size:100" json:"name"`
	AvatarURL  *string `gorm:"size:512" json:"avatar_url,omitempty"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
