package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bugrelay/auth-service/internal/domain"
	"github.com/bugrelay/auth-service/internal/observability"
	"github.com/bugrelay/auth-service/internal/repository"
	"github.com/bugrelay/auth-service/internal/security"
)

// ExternalAssertion is what an identity provider vouches for after a
// completed OAuth exchange.
type ExternalAssertion struct {
	Provider      string
	ProviderID    string
	Email         string
	Name          string
	AvatarURL     string
	EmailVerified bool
}

// IdentityResolver maps a credential or provider assertion to exactly one
// principal, creating or linking accounts under the rules that keep a
// (provider, provider id) pair owned by a single principal forever.
type IdentityResolver struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewIdentityResolver(users repository.UserRepository, logger *slog.Logger) *IdentityResolver {
	return &IdentityResolver{users: users, logger: logger}
}

// ResolvePassword authenticates an email/password pair. Missing account
// and wrong password are indistinguishable to the caller.
func (r *IdentityResolver) ResolvePassword(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := r.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, ErrServiceUnavailable
	}
	if !user.HasPassword() {
		return nil, ErrWrongAuthMethod
	}
	if err := security.ComparePassword(password, *user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ResolveExternal resolves a provider assertion in three steps: by
// (provider, provider id), then by verified email (the only implicit
// linking path, always audited), then by creating a fresh principal.
func (r *IdentityResolver) ResolveExternal(ctx context.Context, assertion ExternalAssertion, ip string) (*domain.User, error) {
	user, err := r.users.FindByProviderIdentity(ctx, assertion.Provider, assertion.ProviderID)
	if err == nil {
		r.refreshProfile(ctx, user, assertion)
		return user, nil
	}
	if !errors.Is(err, repository.ErrIdentityNotFound) && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrServiceUnavailable
	}

	if assertion.Email != "" {
		existing, err := r.users.FindByEmail(ctx, assertion.Email)
		if err == nil {
			return r.linkToExisting(ctx, existing, assertion, ip)
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrServiceUnavailable
		}
	}

	return r.createFromAssertion(ctx, assertion)
}

// linkToExisting attaches the provider identity to a principal that
// matched by email. The provider must assert the email as verified:
// an unverified address is exactly the account-takeover vector this
// check exists to close, so the attempt is refused and audited.
func (r *IdentityResolver) linkToExisting(ctx context.Context, user *domain.User, assertion ExternalAssertion, ip string) (*domain.User, error) {
	if !assertion.EmailVerified {
		observability.Audit(ctx, "identity_link_refused_unverified_email",
			"user_id", user.ID,
			"provider", assertion.Provider,
			"ip", ip,
		)
		return nil, ErrIdentityConflict
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
	if err := r.users.LinkIdentity(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrIdentityTaken) {
			observability.Audit(ctx, "identity_link_conflict",
				"user_id", user.ID,
				"provider", assertion.Provider,
				"ip", ip,
			)
			return nil, ErrIdentityConflict
		}
		return nil, ErrServiceUnavailable
	}

	observability.Audit(ctx, "identity_implicitly_linked",
		"user_id", user.ID,
		"provider", assertion.Provider,
		"ip", ip,
	)
	r.refreshProfile(ctx, user, assertion)
	return user, nil
}

func (r *IdentityResolver) createFromAssertion(ctx context.Context, assertion ExternalAssertion) (*domain.User, error) {
	user := &domain.User{
		Email:         repository.NormalizeEmail(assertion.Email),
		DisplayName:   assertion.Name,
		EmailVerified: assertion.EmailVerified,
		Identities: []domain.ExternalIdentity{{
			Provider:   assertion.Provider,
			ProviderID: assertion.ProviderID,
			Email:      repository.NormalizeEmail(assertion.Email),
			Name:       assertion.Name,
		}},
		LastActiveAt: time.Now().UTC(),
	}
	if assertion.AvatarURL != "" {
		user.AvatarURL = &assertion.AvatarURL
		user.Identities[0].AvatarURL = &assertion.AvatarURL
	}
	if err := r.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			// Lost a race with another login creating the same account.
			return nil, ErrIdentityConflict
		}
		return nil, ErrServiceUnavailable
	}
	return user, nil
}

// refreshProfile updates cached provider fields; failures here never
// block a login.
func (r *IdentityResolver) refreshProfile(ctx context.Context, user *domain.User, assertion ExternalAssertion) {
	var avatar *string
	if assertion.AvatarURL != "" {
		avatar = &assertion.AvatarURL
		user.AvatarURL = avatar
	}
	if assertion.EmailVerified {
		user.EmailVerified = true
	}
	if assertion.Name != "" {
		user.DisplayName = assertion.Name
	}
	if err := r.users.Update(ctx, user); err != nil {
		r.logger.Warn("profile refresh failed", "user_id", user.ID, "error", err)
	}
	if err := r.users.UpdateIdentityProfile(ctx, assertion.Provider, assertion.ProviderID, assertion.Email, assertion.Name, avatar); err != nil {
		r.logger.Warn("identity profile refresh failed", "user_id", user.ID, "error", err)
	}
}
