package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bugrelay/auth-service/internal/domain"
	"github.com/bugrelay/auth-service/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrIdentityNotFound = errors.New("external identity not found")
	ErrDuplicateEmail   = errors.New("email already registered")
	ErrIdentityTaken    = errors.New("external identity already linked")
)

// NormalizeEmail is the single place emails are canonicalized before any
// lookup or insert.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByProviderIdentity(ctx context.Context, provider, providerID string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	LinkIdentity(ctx context.Context, identity *domain.ExternalIdentity) error
	UpdateIdentityProfile(ctx context.Context, provider, providerID, email, name string, avatarURL *string) error
	TouchLastActive(ctx context.Context, userID string, at time.Time) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Preload("Identities").Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Preload("Identities").Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByProviderIdentity(ctx context.Context, provider, providerID string) (*domain.User, error) {
	var identity domain.ExternalIdentity
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_id = ?", provider, providerID).
		First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "identity", "find_by_provider", "not_found")
			return nil, ErrIdentityNotFound
		}
		observability.RecordRepositoryOperation(ctx, "identity", "find_by_provider", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "identity", "find_by_provider", "success")
	return r.FindByID(ctx, identity.UserID)
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	user.Email = NormalizeEmail(user.Email)
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "user", "create", "conflict")
			return ErrDuplicateEmail
		}
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

func (r *GormUserRepository) Update(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Omit("Identities", "Sessions").Save(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "update", "success")
	return nil
}

func (r *GormUserRepository) LinkIdentity(ctx context.Context, identity *domain.ExternalIdentity) error {
	err := r.db.WithContext(ctx).Create(identity).Error
	if err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "identity", "link", "conflict")
			return ErrIdentityTaken
		}
		observability.RecordRepositoryOperation(ctx, "identity", "link", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "identity", "link", "success")
	return nil
}

func (r *GormUserRepository) UpdateIdentityProfile(ctx context.Context, provider, providerID, email, name string, avatarURL *string) error {
	updates := map[string]any{"email": NormalizeEmail(email), "name": name}
	if avatarURL != nil {
		updates["avatar_url"] = *avatarURL
	}
	err := r.db.WithContext(ctx).Model(&domain.ExternalIdentity{}).
		Where("provider = ? AND provider_id = ?", provider, providerID).
		Updates(updates).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "identity", "update_profile", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "identity", "update_profile", "success")
	return nil
}

func (r *GormUserRepository) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("last_active_at", at).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
