package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bugrelay/auth-service/internal/domain"
	"github.com/bugrelay/auth-service/internal/notify"
	"github.com/bugrelay/auth-service/internal/observability"
	"github.com/bugrelay/auth-service/internal/repository"
	"github.com/bugrelay/auth-service/internal/security"
)

// ClientInfo is what the transport layer knows about the caller's device.
type ClientInfo struct {
	UserAgent string
	IP        string
}

// LoginResult is either a finished login (Tokens set) or a step-up
// challenge (MFARequired with PendingToken), never both.
type LoginResult struct {
	User         *domain.User
	Tokens       *TokenPair
	Session      *domain.Session
	MFARequired  bool
	PendingToken string
	MFAMethod    string
}

// AuthService orchestrates the full lifecycle: registration, primary
// login, step-up, refresh, logout and the OAuth handshake. It owns no
// state of its own.
type AuthService struct {
	resolver  *IdentityResolver
	tokens    *TokenService
	mfa       *MFAService
	providers *OAuthProviders
	users     repository.UserRepository
	sessions  repository.SessionRepository
	notifier  notify.Notifier
	logger    *slog.Logger
}

// Lifetimes for the out-of-band single-use tokens.
const (
	passwordResetTTL     = time.Hour
	emailVerificationTTL = 24 * time.Hour
)

func NewAuthService(resolver *IdentityResolver, tokens *TokenService, mfa *MFAService, providers *OAuthProviders, users repository.UserRepository, sessions repository.SessionRepository, notifier notify.Notifier, logger *slog.Logger) *AuthService {
	return &AuthService{
		resolver:  resolver,
		tokens:    tokens,
		mfa:       mfa,
		providers: providers,
		users:     users,
		sessions:  sessions,
		notifier:  notifier,
		logger:    logger,
	}
}

// Register creates a password principal and logs it straight in.
func (s *AuthService) Register(ctx context.Context, email, password, displayName string, client ClientInfo) (*LoginResult, error) {
	if err := security.CheckPasswordStrength(password); err != nil {
		return nil, err
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Email:        repository.NormalizeEmail(email),
		DisplayName:  displayName,
		PasswordHash: &hash,
		LastActiveAt: time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, ErrServiceUnavailable
	}
	observability.Audit(ctx, "user_registered", "user_id", user.ID, "ip", client.IP)
	s.sendEmailVerification(ctx, user)
	result, err := s.finalizeLogin(ctx, user, client)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin("password", "registered")
	return result, nil
}

// LoginPassword runs primary authentication. Principals with a
// configured second factor get a pending token instead of a session.
func (s *AuthService) LoginPassword(ctx context.Context, email, password string, client ClientInfo) (*LoginResult, error) {
	user, err := s.resolver.ResolvePassword(ctx, email, password)
	if err != nil {
		observability.RecordAuthLogin("password", "failure")
		observability.Audit(ctx, "login_failed", "email", repository.NormalizeEmail(email), "ip", client.IP)
		return nil, err
	}
	if s.mfa.Required(user) {
		return s.beginStepUp(ctx, user, "password")
	}
	result, err := s.finalizeLogin(ctx, user, client)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin("password", "success")
	return result, nil
}

// CompleteMFA exchanges a pending token plus a valid code for the real
// session. The pending token is consumed whatever the outcome.
func (s *AuthService) CompleteMFA(ctx context.Context, pendingToken, method, code string, client ClientInfo) (*LoginResult, error) {
	user, err := s.mfa.Complete(ctx, pendingToken, method, code, client.IP)
	if err != nil {
		return nil, err
	}
	result, err := s.finalizeLogin(ctx, user, client)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin("mfa", "success")
	return result, nil
}

// Refresh rotates a refresh token and keeps the session's last-used
// timestamp roughly current.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	pair, err := s.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		observability.RecordAuthRefresh("failure")
		return nil, err
	}
	observability.RecordAuthRefresh("success")
	return pair, nil
}

// Logout tears down the presented token's session.
func (s *AuthService) Logout(ctx context.Context, claims *security.Claims, client ClientInfo) error {
	if err := s.tokens.RevokeSessionToken(ctx, claims, "logout"); err != nil {
		observability.RecordAuthLogout("session", "failure")
		return err
	}
	observability.Audit(ctx, "logout", "user_id", claims.Subject, "session_id", claims.SessionID, "ip", client.IP)
	observability.RecordAuthLogout("session", "success")
	return nil
}

// LogoutAll revokes every session and every outstanding token of the
// principal, including access tokens issued before the newest rotation.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, client ClientInfo) error {
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		observability.RecordAuthLogout("all", "failure")
		return err
	}
	observability.Audit(ctx, "logout_all", "user_id", userID, "ip", client.IP)
	observability.RecordAuthLogout("all", "success")
	return nil
}

// OAuthBegin returns the provider authorize URL and the anti-forgery
// state the transport must pin to the caller.
func (s *AuthService) OAuthBegin(_ context.Context, provider string) (authorizeURL, state string, err error) {
	state, err = security.RandomToken(16)
	if err != nil {
		return "", "", err
	}
	authorizeURL, err = s.providers.AuthorizeURL(provider, state)
	if err != nil {
		return "", "", err
	}
	return authorizeURL, state, nil
}

// OAuthCallback finishes the handshake. State verification happens in
// the transport before any of this runs; here the code is exchanged and
// the assertion resolved to a principal.
func (s *AuthService) OAuthCallback(ctx context.Context, provider, code string, client ClientInfo) (*LoginResult, error) {
	token, err := s.providers.Exchange(ctx, provider, code)
	if err != nil {
		observability.RecordAuthLogin(provider, "failure")
		return nil, ErrInvalidCredentials
	}
	assertion, err := s.providers.FetchAssertion(ctx, provider, token)
	if err != nil {
		observability.RecordAuthLogin(provider, "failure")
		return nil, ErrInvalidCredentials
	}
	user, err := s.resolver.ResolveExternal(ctx, assertion, client.IP)
	if err != nil {
		observability.RecordAuthLogin(provider, "failure")
		return nil, err
	}
	if s.mfa.Required(user) {
		return s.beginStepUp(ctx, user, provider)
	}
	result, err := s.finalizeLogin(ctx, user, client)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin(provider, "success")
	return result, nil
}

// SupportedProvider reports whether the transport should route the
// provider segment at all.
func (s *AuthService) SupportedProvider(provider string) bool {
	return s.providers.Supported(provider)
}

func (s *AuthService) beginStepUp(ctx context.Context, user *domain.User, method string) (*LoginResult, error) {
	pending, mfaMethod, err := s.mfa.Begin(ctx, user)
	if err != nil {
		observability.RecordAuthLogin(method, "failure")
		return nil, err
	}
	observability.RecordAuthLogin(method, "mfa_required")
	observability.Audit(ctx, "mfa_challenge_issued", "user_id", user.ID, "method", mfaMethod)
	return &LoginResult{User: user, MFARequired: true, PendingToken: pending, MFAMethod: mfaMethod}, nil
}

// finalizeLogin creates the device session and its first token pair. The
// session id is fixed before signing so both tokens can carry it. If the
// registry insert fails the freshly signed pair is blacklisted so no
// usable tokens leak out of a failed login.
func (s *AuthService) finalizeLogin(ctx context.Context, user *domain.User, client ClientInfo) (*LoginResult, error) {
	sessionID := uuid.NewString()
	pair, err := s.tokens.IssuePair(user.ID, user.Email, user.IsAdmin, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:             sessionID,
		UserID:         user.ID,
		CurrentTokenID: pair.RefreshClaims.ID,
		UserAgent:      client.UserAgent,
		IP:             client.IP,
		ExpiresAt:      now.Add(s.tokens.RefreshTTL()),
		LastUsedAt:     now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if berr := s.blacklist().Add(ctx, pair.AccessClaims.ID, user.ID, pair.AccessClaims.ExpiresAt.Time); berr != nil {
			s.logger.Error("orphaned access token after failed session create", "user_id", user.ID, "error", berr)
		}
		if berr := s.blacklist().Add(ctx, pair.RefreshClaims.ID, user.ID, pair.RefreshClaims.ExpiresAt.Time); berr != nil {
			s.logger.Error("orphaned refresh token after failed session create", "user_id", user.ID, "error", berr)
		}
		return nil, ErrServiceUnavailable
	}

	if err := s.users.TouchLastActive(ctx, user.ID, now); err != nil {
		s.logger.Debug("last-active update failed", "user_id", user.ID, "error", err)
	}
	return &LoginResult{User: user, Tokens: pair, Session: session}, nil
}

// RequestPasswordReset starts the reset flow. The response never reveals
// whether the address exists; only password principals get a token.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, client ClientInfo) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.Audit(ctx, "password_reset_unknown_email", "email", repository.NormalizeEmail(email), "ip", client.IP)
			return nil
		}
		return ErrServiceUnavailable
	}
	if !user.HasPassword() {
		observability.Audit(ctx, "password_reset_external_account", "user_id", user.ID, "ip", client.IP)
		return nil
	}

	token, _, err := s.tokens.IssueSingleUse(user.ID, user.Email, security.KindPasswordReset, passwordResetTTL)
	if err != nil {
		return err
	}
	if err := s.notifier.SendPasswordReset(ctx, user.Email, token); err != nil {
		s.logger.Warn("password reset delivery failed", "user_id", user.ID, "error", err)
	}
	observability.Audit(ctx, "password_reset_requested", "user_id", user.ID, "ip", client.IP)
	return nil
}

// ConfirmPasswordReset consumes a reset token and installs the new
// password. Every outstanding token and session of the principal is
// revoked afterwards; the reset token itself is single use.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string, client ClientInfo) error {
	if err := security.CheckPasswordStrength(newPassword); err != nil {
		return err
	}
	claims, err := s.tokens.ConsumeSingleUse(ctx, resetToken, security.KindPasswordReset)
	if err != nil {
		return err
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrInvalidToken
		}
		return ErrServiceUnavailable
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = &hash
	if err := s.users.Update(ctx, user); err != nil {
		return ErrServiceUnavailable
	}
	if err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
		return err
	}

	observability.Audit(ctx, "password_reset_completed", "user_id", user.ID, "ip", client.IP)
	if err := s.notifier.SendSecurityAlert(ctx, user.Email, "password_changed"); err != nil {
		s.logger.Warn("password change alert delivery failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// VerifyEmail consumes a verification token and marks the address
// verified.
func (s *AuthService) VerifyEmail(ctx context.Context, verifyToken string) error {
	claims, err := s.tokens.ConsumeSingleUse(ctx, verifyToken, security.KindEmailVerify)
	if err != nil {
		return err
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrInvalidToken
		}
		return ErrServiceUnavailable
	}
	if user.EmailVerified {
		return nil
	}
	user.EmailVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return ErrServiceUnavailable
	}
	observability.Audit(ctx, "email_verified", "user_id", user.ID)
	return nil
}

// LinkProvider attaches an external identity to the authenticated
// principal. Unlike the implicit login-time path there is no email
// matching here; the caller proved who they are with a bearer token and
// the provider pair just has to be unclaimed.
func (s *AuthService) LinkProvider(ctx context.Context, userID, provider, code string, client ClientInfo) (*domain.User, error) {
	token, err := s.providers.Exchange(ctx, provider, code)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	assertion, err := s.providers.FetchAssertion(ctx, provider, token)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, ErrServiceUnavailable
	}

	identity := &domain.ExternalIdentity{
		UserID:     user.ID,
		Provider:   assertion.Provider,
		ProviderID: assertion.ProviderID,
		Email:      repository.NormalizeEmail(assertion.Email),
		Name:       assertion.Name,
	}
	if assertion.AvatarURL != "" {
		identity.AvatarURL = &assertion.AvatarURL
	}
	if err := s.users.LinkIdentity(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrIdentityTaken) {
			observability.Audit(ctx, "identity_link_conflict", "user_id", user.ID, "provider", provider, "ip", client.IP)
			return nil, ErrIdentityConflict
		}
		return nil, ErrServiceUnavailable
	}
	if user.AvatarURL == nil && assertion.AvatarURL != "" {
		user.AvatarURL = &assertion.AvatarURL
		if err := s.users.Update(ctx, user); err != nil {
			s.logger.Warn("avatar update after link failed", "user_id", user.ID, "error", err)
		}
	}

	observability.Audit(ctx, "identity_explicitly_linked", "user_id", user.ID, "provider", provider, "ip", client.IP)
	return user, nil
}

// sendEmailVerification issues the verification token for a fresh
// password principal; delivery trouble never blocks registration.
func (s *AuthService) sendEmailVerification(ctx context.Context, user *domain.User) {
	if user.EmailVerified {
		return
	}
	token, _, err := s.tokens.IssueSingleUse(user.ID, user.Email, security.KindEmailVerify, emailVerificationTTL)
	if err != nil {
		s.logger.Warn("email verification token issue failed", "user_id", user.ID, "error", err)
		return
	}
	if err := s.notifier.SendEmailVerification(ctx, user.Email, token); err != nil {
		s.logger.Warn("email verification delivery failed", "user_id", user.ID, "error", err)
	}
}

func (s *AuthService) blacklist() BlacklistStore { return s.tokens.blacklist }
