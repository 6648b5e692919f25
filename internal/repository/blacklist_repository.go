package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bugrelay/auth-service/internal/domain"
	"github.com/bugrelay/auth-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlacklistRepository is the durable store of record for revoked token
// ids and per-principal revocation cutoffs. The Redis cache in front of
// it can always be rebuilt from these rows.
type BlacklistRepository interface {
	// Insert is idempotent: inserting the same token id twice is a no-op.
	Insert(ctx context.Context, entry *domain.BlacklistEntry) error
	// InsertNew reports whether this call created the row. A false
	// return means another writer revoked the token first, which is
	// how single-use tokens lose the race exactly once.
	InsertNew(ctx context.Context, entry *domain.BlacklistEntry) (bool, error)
	Find(ctx context.Context, tokenID string) (*domain.BlacklistEntry, error)
	UpsertUserCutoff(ctx context.Context, userID string, cutoff, expiresAt time.Time) error
	UserCutoff(ctx context.Context, userID string) (time.Time, bool, error)
	// PurgeExpired removes rows whose tokens have passed their original
	// expiry. It never removes a live entry.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormBlacklistRepository struct{ db *gorm.DB }

func NewBlacklistRepository(db *gorm.DB) BlacklistRepository { return &GormBlacklistRepository{db: db} }

func (r *GormBlacklistRepository) Insert(ctx context.Context, entry *domain.BlacklistEntry) error {
	_, err := r.InsertNew(ctx, entry)
	return err
}

func (r *GormBlacklistRepository) InsertNew(ctx context.Context, entry *domain.BlacklistEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "token_id"}}, DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "blacklist", "insert", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "blacklist", "insert", "success")
	// The conflict clause swallows duplicates; RowsAffected tells the
	// two apart.
	return res.RowsAffected > 0, nil
}

func (r *GormBlacklistRepository) Find(ctx context.Context, tokenID string) (*domain.BlacklistEntry, error) {
	var entry domain.BlacklistEntry
	err := r.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "blacklist", "find", "not_found")
			return nil, nil
		}
		observability.RecordRepositoryOperation(ctx, "blacklist", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "blacklist", "find", "success")
	return &entry, nil
}

func (r *GormBlacklistRepository) UpsertUserCutoff(ctx context.Context, userID string, cutoff, expiresAt time.Time) error {
	revocation := domain.UserRevocation{UserID: userID, Cutoff: cutoff, ExpiresAt: expiresAt}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"cutoff", "expires_at", "updated_at"}),
		}).
		Create(&revocation).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "blacklist", "upsert_user_cutoff", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "blacklist", "upsert_user_cutoff", "success")
	return nil
}

func (r *GormBlacklistRepository) UserCutoff(ctx context.Context, userID string) (time.Time, bool, error) {
	var revocation domain.UserRevocation
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&revocation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		observability.RecordRepositoryOperation(ctx, "blacklist", "user_cutoff", "error")
		return time.Time{}, false, err
	}
	if revocation.ExpiresAt.Before(time.Now()) {
		return time.Time{}, false, nil
	}
	return revocation.Cutoff, true, nil
}

func (r *GormBlacklistRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.BlacklistEntry{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "blacklist", "purge_expired", "error")
		return 0, res.Error
	}
	purged := res.RowsAffected
	cutoffRes := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.UserRevocation{})
	if cutoffRes.Error != nil {
		observability.RecordRepositoryOperation(ctx, "blacklist", "purge_expired", "error")
		return purged, cutoffRes.Error
	}
	observability.RecordRepositoryOperation(ctx, "blacklist", "purge_expired", "success")
	return purged + cutoffRes.RowsAffected, nil
}
