package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bugrelay/auth-service/internal/observability"
	"github.com/bugrelay/auth-service/internal/repository"
	"github.com/bugrelay/auth-service/internal/security"
)

// TokenPair is the result of every issuance: exactly one access token and
// one refresh token, never one without the other.
type TokenPair struct {
	AccessToken   string
	RefreshToken  string
	AccessClaims  *security.Claims
	RefreshClaims *security.Claims
}

// TokenService owns issuance, validation and refresh rotation. The
// blacklist store and session registry are its only shared state; all
// signing goes through the codec.
type TokenService struct {
	codec      *security.TokenCodec
	blacklist  BlacklistStore
	sessions   repository.SessionRepository
	logger     *slog.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(codec *security.TokenCodec, blacklist BlacklistStore, sessions repository.SessionRepository, logger *slog.Logger, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		codec:      codec,
		blacklist:  blacklist,
		sessions:   sessions,
		logger:     logger,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssuePair signs a fresh access/refresh pair for one session. Each token
// gets its own JTI; both carry the session id.
func (s *TokenService) IssuePair(userID, email string, isAdmin bool, sessionID string) (*TokenPair, error) {
	accessClaims := s.codec.NewClaims(userID, email, isAdmin, security.KindAccess, sessionID, s.accessTTL)
	refreshClaims := s.codec.NewClaims(userID, email, isAdmin, security.KindRefresh, sessionID, s.refreshTTL)

	access, err := s.codec.Sign(accessClaims)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.codec.Sign(refreshClaims)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessClaims:  accessClaims,
		RefreshClaims: refreshClaims,
	}, nil
}

// ValidateAccess verifies structure and signature first, then consults
// the blacklist, so malformed input never costs a store lookup. A store
// failure fails closed.
func (s *TokenService) ValidateAccess(ctx context.Context, raw string) (*security.Claims, error) {
	claims, err := s.verifyKind(ctx, raw, security.KindAccess)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevocation(ctx, claims); err != nil {
		return nil, err
	}
	observability.RecordTokenValidation(ctx, string(security.KindAccess), "valid")
	return claims, nil
}

// Rotate exchanges a refresh token for a new pair. The old token's id is
// blacklisted before anything new is issued: a failure there aborts the
// whole operation with the old token still valid, and a concurrent
// rotation of the same token observes the blacklist row and fails with
// ErrTokenRevoked. There is no state in which both tokens work.
func (s *TokenService) Rotate(ctx context.Context, raw string) (*TokenPair, error) {
	claims, err := s.verifyKind(ctx, raw, security.KindRefresh)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevocation(ctx, claims); err != nil {
		return nil, err
	}

	fresh, err := s.blacklist.Consume(ctx, claims.ID, claims.Subject, claims.ExpiresAt.Time)
	if err != nil {
		observability.RecordTokenValidation(ctx, string(security.KindRefresh), "store_error")
		return nil, ErrServiceUnavailable
	}
	if !fresh {
		observability.RecordTokenValidation(ctx, string(security.KindRefresh), "revoked")
		return nil, ErrTokenRevoked
	}

	pair, err := s.IssuePair(claims.Subject, claims.Email, claims.IsAdmin, claims.SessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.sessions.SwapCurrentToken(ctx, claims.SessionID, claims.ID, pair.RefreshClaims.ID, now); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// Chain already revoked or swapped by a concurrent caller;
			// the old token is blacklisted either way.
			return nil, ErrTokenRevoked
		}
		return nil, ErrServiceUnavailable
	}
	observability.RecordTokenValidation(ctx, string(security.KindRefresh), "rotated")
	return pair, nil
}

// RevokeSessionToken blacklists the presented access token and tears
// down its owning session, including the session's current refresh
// token.
func (s *TokenService) RevokeSessionToken(ctx context.Context, claims *security.Claims, reason string) error {
	if err := s.blacklist.Add(ctx, claims.ID, claims.Subject, claims.ExpiresAt.Time); err != nil {
		return ErrServiceUnavailable
	}
	if claims.SessionID == "" {
		return nil
	}
	session, err := s.sessions.RevokeByIDForUser(ctx, claims.Subject, claims.SessionID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return ErrServiceUnavailable
	}
	if err := s.blacklist.Add(ctx, session.CurrentTokenID, claims.Subject, session.ExpiresAt); err != nil {
		return ErrServiceUnavailable
	}
	return nil
}

// RevokeSessionByID revokes one registered session and blacklists its
// current refresh token; used by the session-management surface.
func (s *TokenService) RevokeSessionByID(ctx context.Context, userID, sessionID, reason string) error {
	session, err := s.sessions.RevokeByIDForUser(ctx, userID, sessionID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return repository.ErrSessionNotFound
		}
		return ErrServiceUnavailable
	}
	if err := s.blacklist.Add(ctx, session.CurrentTokenID, userID, session.ExpiresAt); err != nil {
		return ErrServiceUnavailable
	}
	return nil
}

// RevokeAllForUser implements "log out everywhere". The per-principal
// cutoff is written first, so once it is durable every outstanding token
// of the principal already fails validation, and the session registry
// plus per-token entries follow. Each sub-step is idempotent, so a
// failed call can be retried from scratch.
//
// The cutoff is truncated to the second because iat claims only carry
// second precision on the wire; without the truncation a login landing
// in the same wall-clock second would mint tokens that are dead on
// arrival.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	cutoff := now.Truncate(time.Second)
	if err := s.blacklist.RevokeUser(ctx, userID, cutoff, now.Add(s.refreshTTL)); err != nil {
		return ErrServiceUnavailable
	}
	sessions, err := s.sessions.RevokeAllByUserID(ctx, userID, "logout_all")
	if err != nil {
		return ErrServiceUnavailable
	}
	for _, session := range sessions {
		if err := s.blacklist.Add(ctx, session.CurrentTokenID, userID, session.ExpiresAt); err != nil {
			// Cutoff already covers this token; the entry is audit trail.
			s.logger.Warn("blacklist entry for revoked session failed", "session_id", session.ID, "error", err)
		}
	}
	return nil
}

// IssueSingleUse signs a token for one out-of-band action (password
// reset, email verification). It carries no session id and is expected
// to be consumed exactly once.
func (s *TokenService) IssueSingleUse(userID, email string, kind security.TokenKind, ttl time.Duration) (string, *security.Claims, error) {
	claims := s.codec.NewClaims(userID, email, false, kind, "", ttl)
	token, err := s.codec.Sign(claims)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return token, claims, nil
}

// ConsumeSingleUse verifies a single-use token and burns it. The burn is
// a guarded insert, so of any number of concurrent presentations of the
// same token exactly one succeeds; the rest fail with ErrTokenRevoked.
func (s *TokenService) ConsumeSingleUse(ctx context.Context, raw string, kind security.TokenKind) (*security.Claims, error) {
	claims, err := s.verifyKind(ctx, raw, kind)
	if err != nil {
		return nil, err
	}
	revoked, err := s.blacklist.IsUserRevoked(ctx, claims.Subject, claims.IssuedAt.Time)
	if err != nil {
		return nil, ErrServiceUnavailable
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	fresh, err := s.blacklist.Consume(ctx, claims.ID, claims.Subject, claims.ExpiresAt.Time)
	if err != nil {
		observability.RecordTokenValidation(ctx, string(kind), "store_error")
		return nil, ErrServiceUnavailable
	}
	if !fresh {
		observability.RecordTokenValidation(ctx, string(kind), "revoked")
		return nil, ErrTokenRevoked
	}
	observability.RecordTokenValidation(ctx, string(kind), "consumed")
	return claims, nil
}

// TouchSession records session use out of band; last-used freshness is
// best-effort and not linearized with token operations.
func (s *TokenService) TouchSession(sessionID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sessions.TouchLastUsed(ctx, sessionID, time.Now().UTC()); err != nil {
			s.logger.Debug("session last-used update failed", "session_id", sessionID, "error", err)
		}
	}()
}

func (s *TokenService) verifyKind(ctx context.Context, raw string, kind security.TokenKind) (*security.Claims, error) {
	claims, err := s.codec.Verify(raw)
	if err != nil {
		observability.RecordTokenValidation(ctx, string(kind), "invalid")
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		observability.RecordTokenValidation(ctx, string(kind), "wrong_kind")
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) checkRevocation(ctx context.Context, claims *security.Claims) error {
	revoked, err := s.blacklist.Contains(ctx, claims.ID)
	if err != nil {
		observability.RecordTokenValidation(ctx, string(claims.Kind), "store_error")
		return ErrServiceUnavailable
	}
	if revoked {
		observability.RecordTokenValidation(ctx, string(claims.Kind), "revoked")
		return ErrTokenRevoked
	}
	userRevoked, err := s.blacklist.IsUserRevoked(ctx, claims.Subject, claims.IssuedAt.Time)
	if err != nil {
		observability.RecordTokenValidation(ctx, string(claims.Kind), "store_error")
		return ErrServiceUnavailable
	}
	if userRevoked {
		observability.RecordTokenValidation(ctx, string(claims.Kind), "revoked")
		return ErrTokenRevoked
	}
	return nil
}
