package domain

import "time"

// BlacklistEntry is the durable record of one revoked token id. Rows are
// retained at least until the token's original expiry so that the fast
// cache can always be rebuilt from the store of record.
type BlacklistEntry struct {
	ID        uint      `gorm:"primaryKey"`
	TokenID   string    `gorm:"size:64;uniqueIndex;not null"`
	UserID    string    `gorm:"type:uuid;index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

func (BlacklistEntry) TableName() string { return "token_blacklist" }

// UserRevocation records a per-principal cutoff: every token issued at or
// before Cutoff is revoked, regardless of its individual JTI. Written by
// "log out everywhere", password changes and account suspension, and kept
// until the longest-lived token issued before the cutoff has expired.
type UserRevocation struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"type:uuid;uniqueIndex;not null"`
	Cutoff    time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserRevocation) TableName() string { return "user_revocations" }
