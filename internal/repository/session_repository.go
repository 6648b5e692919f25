package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bugrelay/auth-service/internal/domain"
	"github.com/bugrelay/auth-service/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	FindActiveByTokenID(ctx context.Context, tokenID string) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID string) ([]domain.Session, error)
	// SwapCurrentToken replaces the chain's current refresh JTI, guarded
	// by the old value so concurrent rotations of the same token cannot
	// both win. ErrSessionNotFound when the guard misses.
	SwapCurrentToken(ctx context.Context, sessionID, oldTokenID, newTokenID string, usedAt time.Time) error
	RevokeByIDForUser(ctx context.Context, userID, sessionID, reason string) (*domain.Session, error)
	// RevokeAllByUserID marks every active session inactive and returns
	// the rows as they were before revocation, so callers can blacklist
	// each chain's current token id.
	RevokeAllByUserID(ctx context.Context, userID, reason string) ([]domain.Session, error)
	TouchLastUsed(ctx context.Context, sessionID string, at time.Time) error
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindActiveByTokenID(ctx context.Context, tokenID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("current_token_id = ? AND revoked_at IS NULL AND expires_at > ?", tokenID, time.Now()).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_token_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_token_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_token_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) SwapCurrentToken(ctx context.Context, sessionID, oldTokenID, newTokenID string, usedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND current_token_id = ? AND revoked_at IS NULL", sessionID, oldTokenID).
		Updates(map[string]any{"current_token_id": newTokenID, "last_used_at": usedAt})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "swap_current_token", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "swap_current_token", "not_found")
		return ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "session", "swap_current_token", "success")
	return nil
}

func (r *GormSessionRepository) RevokeByIDForUser(ctx context.Context, userID, sessionID, reason string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", sessionID, userID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "error")
		return nil, err
	}
	if s.RevokedAt != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "success")
		return &s, nil
	}
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", sessionID, userID).
		Updates(map[string]any{"revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "error")
		return nil, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_id_for_user", "success")
	return &s, nil
}

func (r *GormSessionRepository) RevokeAllByUserID(ctx context.Context, userID, reason string) ([]domain.Session, error) {
	var active []domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND revoked_at IS NULL", userID).Find(&active).Error; err != nil {
			return err
		}
		if len(active) == 0 {
			return nil
		}
		now := time.Now().UTC()
		return tx.Model(&domain.Session{}).
			Where("user_id = ? AND revoked_at IS NULL", userID).
			Updates(map[string]any{"revoked_at": now, "revoked_reason": reason}).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_all_by_user_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_all_by_user_id", "success")
	return active, nil
}

func (r *GormSessionRepository) TouchLastUsed(ctx context.Context, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", sessionID).
		Update("last_used_at", at).Error
}
