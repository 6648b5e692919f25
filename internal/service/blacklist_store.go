package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bugrelay/auth-service/internal/domain"
	"github.com/bugrelay/auth-service/internal/observability"
	"github.com/bugrelay/auth-service/internal/repository"
)

// BlacklistStore answers "is this token revoked" on every validation and
// records new revocations. Both the per-token and the per-principal form
// go through it.
type BlacklistStore interface {
	// Add revokes one token id. Idempotent.
	Add(ctx context.Context, tokenID, userID string, expiresAt time.Time) error
	// Consume revokes one token id and reports whether this call was
	// the first to do so. Concurrent callers racing on the same id see
	// exactly one true; single-use tokens are burned through here.
	Consume(ctx context.Context, tokenID, userID string, expiresAt time.Time) (bool, error)
	Contains(ctx context.Context, tokenID string) (bool, error)
	// RevokeUser revokes every token of the principal issued strictly
	// before cutoff. Cutoffs carry whole-second granularity, matching
	// the precision of the iat claim they are compared against.
	// retainUntil bounds how long the record must live: at least until
	// the longest-lived affected token expires.
	RevokeUser(ctx context.Context, userID string, cutoff, retainUntil time.Time) error
	IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error)
}

// BlacklistCache is the fast, lossy side of the dual store.
type BlacklistCache interface {
	SetToken(ctx context.Context, tokenID string, ttl time.Duration) error
	HasToken(ctx context.Context, tokenID string) (bool, error)
	SetUserCutoff(ctx context.Context, userID string, cutoff time.Time, ttl time.Duration) error
	UserCutoff(ctx context.Context, userID string) (time.Time, bool, error)
}

// NoopBlacklistCache disables the fast path; every lookup goes straight
// to the store of record.
type NoopBlacklistCache struct{}

func NewNoopBlacklistCache() *NoopBlacklistCache { return &NoopBlacklistCache{} }

func (*NoopBlacklistCache) SetToken(context.Context, string, time.Duration) error { return nil }
func (*NoopBlacklistCache) HasToken(context.Context, string) (bool, error)        { return false, nil }
func (*NoopBlacklistCache) SetUserCutoff(context.Context, string, time.Time, time.Duration) error {
	return nil
}
func (*NoopBlacklistCache) UserCutoff(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

// DualBlacklistStore composes the cache and the durable repository:
// write-through on revocation, read-through with repopulation on lookup.
// The durable store is authoritative; cache failures never flip an
// answer, they only cost latency.
type DualBlacklistStore struct {
	cache        BlacklistCache
	store        repository.BlacklistRepository
	cacheTimeout time.Duration
	logger       *slog.Logger
}

func NewDualBlacklistStore(cache BlacklistCache, store repository.BlacklistRepository, cacheTimeout time.Duration, logger *slog.Logger) *DualBlacklistStore {
	if cache == nil {
		cache = NewNoopBlacklistCache()
	}
	if cacheTimeout <= 0 {
		cacheTimeout = 150 * time.Millisecond
	}
	return &DualBlacklistStore{cache: cache, store: store, cacheTimeout: cacheTimeout, logger: logger}
}

func (s *DualBlacklistStore) Add(ctx context.Context, tokenID, userID string, expiresAt time.Time) error {
	_, err := s.Consume(ctx, tokenID, userID, expiresAt)
	return err
}

// Consume answers through the durable store alone: its unique token_id
// column is what serializes concurrent burns of the same token.
func (s *DualBlacklistStore) Consume(ctx context.Context, tokenID, userID string, expiresAt time.Time) (bool, error) {
	entry := &domain.BlacklistEntry{TokenID: tokenID, UserID: userID, ExpiresAt: expiresAt}
	created, err := s.store.InsertNew(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("blacklist insert: %w", err)
	}
	if ttl := time.Until(expiresAt); ttl > 0 {
		cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
		defer cancel()
		if err := s.cache.SetToken(cctx, tokenID, ttl); err != nil {
			// Store of record already has the row; validators converge
			// after the cache-to-store propagation window.
			s.logger.Warn("blacklist cache set failed", "error", err)
		}
	}
	return created, nil
}

func (s *DualBlacklistStore) Contains(ctx context.Context, tokenID string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	hit, err := s.cache.HasToken(cctx, tokenID)
	cancel()
	if err == nil && hit {
		observability.RecordBlacklistLookup(ctx, "cache", "hit")
		return true, nil
	}
	if err != nil {
		observability.RecordBlacklistLookup(ctx, "cache", "error")
		s.logger.Warn("blacklist cache lookup failed", "error", err)
	}

	entry, err := s.store.Find(ctx, tokenID)
	if err != nil {
		observability.RecordBlacklistLookup(ctx, "store", "error")
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	if entry == nil {
		observability.RecordBlacklistLookup(ctx, "store", "miss")
		return false, nil
	}
	observability.RecordBlacklistLookup(ctx, "store", "hit")
	if ttl := time.Until(entry.ExpiresAt); ttl > 0 {
		cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
		if err := s.cache.SetToken(cctx, tokenID, ttl); err != nil {
			s.logger.Warn("blacklist cache repopulate failed", "error", err)
		}
		cancel()
	}
	return true, nil
}

func (s *DualBlacklistStore) RevokeUser(ctx context.Context, userID string, cutoff, retainUntil time.Time) error {
	if err := s.store.UpsertUserCutoff(ctx, userID, cutoff, retainUntil); err != nil {
		return fmt.Errorf("blacklist user cutoff: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	if err := s.cache.SetUserCutoff(cctx, userID, cutoff, time.Until(retainUntil)); err != nil {
		s.logger.Warn("blacklist cache cutoff set failed", "error", err)
	}
	return nil
}

func (s *DualBlacklistStore) IsUserRevoked(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	cutoff, ok, err := s.cache.UserCutoff(cctx, userID)
	cancel()
	if err == nil && ok {
		return issuedAt.Before(cutoff), nil
	}
	if err != nil {
		s.logger.Warn("blacklist cache cutoff lookup failed", "error", err)
	}

	cutoff, ok, err = s.store.UserCutoff(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("blacklist cutoff lookup: %w", err)
	}
	if !ok {
		return false, nil
	}
	return issuedAt.Before(cutoff), nil
}
