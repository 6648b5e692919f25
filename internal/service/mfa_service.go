package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/bugrelay/auth-service/internal/domain"
	"github.com/bugrelay/auth-service/internal/notify"
	"github.com/bugrelay/auth-service/internal/observability"
	"github.com/bugrelay/auth-service/internal/repository"
	"github.com/bugrelay/auth-service/internal/security"
)

// MFAService is the step-up verifier. A successful primary login for a
// principal with a configured factor yields only a pending token; final
// token issuance happens in Complete, after the factor checks out. The
// pending token is single use: it is blacklisted on every Complete call
// before the code is even looked at.
type MFAService struct {
	codec         *security.TokenCodec
	blacklist     BlacklistStore
	users         repository.UserRepository
	challenges    MFAChallengeStore
	notifier      notify.Notifier
	logger        *slog.Logger
	pendingTTL    time.Duration
	maxAttempts   int
	attemptWindow time.Duration
}

func NewMFAService(codec *security.TokenCodec, blacklist BlacklistStore, users repository.UserRepository, challenges MFAChallengeStore, notifier notify.Notifier, logger *slog.Logger, pendingTTL time.Duration, maxAttempts int, attemptWindow time.Duration) *MFAService {
	return &MFAService{
		codec:         codec,
		blacklist:     blacklist,
		users:         users,
		challenges:    challenges,
		notifier:      notifier,
		logger:        logger,
		pendingTTL:    pendingTTL,
		maxAttempts:   maxAttempts,
		attemptWindow: attemptWindow,
	}
}

// Required reports whether the principal must pass step-up before a
// session is created.
func (s *MFAService) Required(user *domain.User) bool {
	return user.MFAEnabled
}

// Begin issues the single-purpose pending token. For the email method it
// also generates the one-shot code and hands it to the notifier; delivery
// failure is not a login failure.
func (s *MFAService) Begin(ctx context.Context, user *domain.User) (pendingToken, method string, err error) {
	method = user.MFAMethod
	if method == "" {
		method = domain.MFAMethodTOTP
	}

	claims := s.codec.NewClaims(user.ID, user.Email, user.IsAdmin, security.KindPendingMFA, "", s.pendingTTL)
	token, err := s.codec.Sign(claims)
	if err != nil {
		return "", "", err
	}

	if method == domain.MFAMethodEmail {
		code, err := security.RandomDigits(6)
		if err != nil {
			return "", "", err
		}
		if err := s.challenges.StoreCode(ctx, claims.ID, HashMFACode(code), s.pendingTTL); err != nil {
			return "", "", ErrServiceUnavailable
		}
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notifier.SendMFACode(nctx, user.Email, code); err != nil {
				s.logger.Warn("mfa code delivery failed", "user_id", user.ID, "error", err)
			}
		}()
	}
	return token, method, nil
}

// Complete validates the pending token exactly like an access token,
// burns it, then verifies the submitted code. Every attempt, pass or
// fail, counts against the principal's rate-limit window and lands in
// the audit log.
func (s *MFAService) Complete(ctx context.Context, pendingToken, method, code, ip string) (*domain.User, error) {
	claims, err := s.codec.Verify(pendingToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Kind != security.KindPendingMFA {
		return nil, ErrInvalidToken
	}
	// Single use: burn the pending token before verifying anything. The
	// burn is a guarded insert, so concurrent presentations of the same
	// token race for one slot and every loser stops here.
	fresh, err := s.blacklist.Consume(ctx, claims.ID, claims.Subject, claims.ExpiresAt.Time)
	if err != nil {
		return nil, ErrServiceUnavailable
	}
	if !fresh {
		observability.Audit(ctx, "mfa_pending_token_reuse", "user_id", claims.Subject, "ip", ip)
		return nil, ErrTokenRevoked
	}

	attempts, err := s.challenges.IncrAttempts(ctx, claims.Subject, s.attemptWindow)
	if err != nil {
		return nil, ErrServiceUnavailable
	}
	if attempts > int64(s.maxAttempts) {
		observability.Audit(ctx, "mfa_rate_limited", "user_id", claims.Subject, "ip", ip, "attempts", attempts)
		observability.RecordMFAAttempt(method, "rate_limited")
		return nil, ErrTooManyMFAAttempts
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, ErrServiceUnavailable
	}

	ok, err := s.verifyCode(ctx, user, claims.ID, method, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.Audit(ctx, "mfa_code_rejected", "user_id", user.ID, "ip", ip, "method", method)
		observability.RecordMFAAttempt(method, "failure")
		return nil, ErrMFACodeInvalid
	}

	observability.Audit(ctx, "mfa_completed", "user_id", user.ID, "ip", ip, "method", method)
	observability.RecordMFAAttempt(method, "success")
	return user, nil
}

func (s *MFAService) verifyCode(ctx context.Context, user *domain.User, tokenID, method, code string) (bool, error) {
	switch method {
	case domain.MFAMethodTOTP:
		if user.TOTPSecret == nil {
			return false, ErrMFACodeInvalid
		}
		return security.VerifyTOTP(*user.TOTPSecret, code, time.Now()), nil
	case domain.MFAMethodEmail:
		stored, err := s.challenges.ConsumeCode(ctx, tokenID)
		if err != nil {
			return false, ErrServiceUnavailable
		}
		if stored == "" {
			return false, nil
		}
		submitted := HashMFACode(code)
		return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1, nil
	default:
		return false, ErrMFACodeInvalid
	}
}
