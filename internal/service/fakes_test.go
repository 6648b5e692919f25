package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bugrelay/auth-service/internal/domain"
	"github.com/bugrelay/auth-service/internal/repository"
)

type fakeUserRepo struct {
	mu          sync.Mutex
	byID        map[string]*domain.User
	failure     error
	linkFailure error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[string]*domain.User{}}
}

func (r *fakeUserRepo) add(u *domain.User) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	for i := range u.Identities {
		u.Identities[i].UserID = u.ID
	}
	cp := *u
	r.byID[u.ID] = &cp
	return u
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return nil, r.failure
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return nil, r.failure
	}
	norm := repository.NormalizeEmail(email)
	for _, u := range r.byID {
		if u.Email == norm {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepo) FindByProviderIdentity(_ context.Context, provider, providerID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return nil, r.failure
	}
	for _, u := range r.byID {
		for _, id := range u.Identities {
			if id.Provider == provider && id.ProviderID == providerID {
				cp := *u
				return &cp, nil
			}
		}
	}
	return nil, repository.ErrIdentityNotFound
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return r.failure
	}
	for _, u := range r.byID {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	for i := range user.Identities {
		user.Identities[i].UserID = user.ID
	}
	cp := *user
	r.byID[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	cp := *user
	r.byID[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) LinkIdentity(_ context.Context, identity *domain.ExternalIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linkFailure != nil {
		return r.linkFailure
	}
	for _, u := range r.byID {
		for _, id := range u.Identities {
			if id.Provider == identity.Provider && id.ProviderID == identity.ProviderID {
				return repository.ErrIdentityTaken
			}
		}
	}
	owner, ok := r.byID[identity.UserID]
	if !ok {
		return repository.ErrUserNotFound
	}
	owner.Identities = append(owner.Identities, *identity)
	return nil
}

func (r *fakeUserRepo) UpdateIdentityProfile(context.Context, string, string, string, string, *string) error {
	return nil
}

func (r *fakeUserRepo) TouchLastActive(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.LastActiveAt = at
	}
	return nil
}

type fakeSessionRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.Session
	failure error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byID: map[string]*domain.Session{}}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return r.failure
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	cp := *s
	r.byID[s.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) FindByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) FindActiveByTokenID(_ context.Context, tokenID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.CurrentTokenID == tokenID && s.Active(time.Now()) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *fakeSessionRepo) ListActiveByUserID(_ context.Context, userID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, s := range r.byID {
		if s.UserID == userID && s.Active(time.Now()) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) SwapCurrentToken(_ context.Context, sessionID, oldTokenID, newTokenID string, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return r.failure
	}
	s, ok := r.byID[sessionID]
	if !ok || s.RevokedAt != nil || s.CurrentTokenID != oldTokenID {
		return repository.ErrSessionNotFound
	}
	s.CurrentTokenID = newTokenID
	s.LastUsedAt = usedAt
	return nil
}

func (r *fakeSessionRepo) RevokeByIDForUser(_ context.Context, userID, sessionID, reason string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok || s.UserID != userID {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	if s.RevokedAt == nil {
		now := time.Now().UTC()
		s.RevokedAt = &now
		s.RevokedReason = &reason
	}
	return &cp, nil
}

func (r *fakeSessionRepo) RevokeAllByUserID(_ context.Context, userID, reason string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var revoked []domain.Session
	now := time.Now().UTC()
	for _, s := range r.byID {
		if s.UserID == userID && s.RevokedAt == nil {
			revoked = append(revoked, *s)
			s.RevokedAt = &now
			s.RevokedReason = &reason
		}
	}
	return revoked, nil
}

func (r *fakeSessionRepo) TouchLastUsed(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[sessionID]; ok {
		s.LastUsedAt = at
	}
	return nil
}

// memBlacklistStore implements BlacklistStore for tests that exercise
// the token service without a database.
type memBlacklistStore struct {
	mu           sync.Mutex
	tokens       map[string]time.Time
	cutoffs      map[string]time.Time
	failNextAdd  error
	failNextRead error
}

func newMemBlacklistStore() *memBlacklistStore {
	return &memBlacklistStore{tokens: map[string]time.Time{}, cutoffs: map[string]time.Time{}}
}

func (s *memBlacklistStore) Add(_ context.Context, tokenID, _ string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNextAdd; err != nil {
		s.failNextAdd = nil
		return err
	}
	s.tokens[tokenID] = expiresAt
	return nil
}

func (s *memBlacklistStore) Consume(_ context.Context, tokenID, _ string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNextAdd; err != nil {
		s.failNextAdd = nil
		return false, err
	}
	if _, ok := s.tokens[tokenID]; ok {
		return false, nil
	}
	s.tokens[tokenID] = expiresAt
	return true, nil
}

func (s *memBlacklistStore) Contains(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNextRead; err != nil {
		s.failNextRead = nil
		return false, err
	}
	_, ok := s.tokens[tokenID]
	return ok, nil
}

func (s *memBlacklistStore) RevokeUser(_ context.Context, userID string, cutoff, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs[userID] = cutoff
	return nil
}

func (s *memBlacklistStore) IsUserRevoked(_ context.Context, userID string, issuedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff, ok := s.cutoffs[userID]
	if !ok {
		return false, nil
	}
	return issuedAt.Before(cutoff), nil
}

// fakeBlacklistRepo is the durable side for dual-store tests, with
// injectable failures.
type fakeBlacklistRepo struct {
	mu      sync.Mutex
	entries map[string]*domain.BlacklistEntry
	cutoffs map[string][2]time.Time
	finds   int
	failure error
}

func newFakeBlacklistRepo() *fakeBlacklistRepo {
	return &fakeBlacklistRepo{entries: map[string]*domain.BlacklistEntry{}, cutoffs: map[string][2]time.Time{}}
}

func (r *fakeBlacklistRepo) Insert(_ context.Context, entry *domain.BlacklistEntry) error {
	_, err := r.InsertNew(context.Background(), entry)
	return err
}

func (r *fakeBlacklistRepo) InsertNew(_ context.Context, entry *domain.BlacklistEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return false, r.failure
	}
	if _, ok := r.entries[entry.TokenID]; ok {
		return false, nil
	}
	cp := *entry
	r.entries[entry.TokenID] = &cp
	return true, nil
}

func (r *fakeBlacklistRepo) Find(_ context.Context, tokenID string) (*domain.BlacklistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	if r.failure != nil {
		return nil, r.failure
	}
	entry, ok := r.entries[tokenID]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (r *fakeBlacklistRepo) UpsertUserCutoff(_ context.Context, userID string, cutoff, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return r.failure
	}
	r.cutoffs[userID] = [2]time.Time{cutoff, expiresAt}
	return nil
}

func (r *fakeBlacklistRepo) UserCutoff(_ context.Context, userID string) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure != nil {
		return time.Time{}, false, r.failure
	}
	pair, ok := r.cutoffs[userID]
	if !ok || time.Now().After(pair[1]) {
		return time.Time{}, false, nil
	}
	return pair[0], true, nil
}

func (r *fakeBlacklistRepo) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, entry := range r.entries {
		if entry.ExpiresAt.Before(now) {
			delete(r.entries, id)
			n++
		}
	}
	return n, nil
}

var errStoreDown = errors.New("store down")

// captureNotifier records outbound messages so flow tests can pick up
// the tokens a real deployment would deliver by email.
type captureNotifier struct {
	mu           sync.Mutex
	mfaCodes     []string
	resetTokens  []string
	verifyTokens []string
	alerts       []string
}

func (n *captureNotifier) SendMFACode(_ context.Context, _, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mfaCodes = append(n.mfaCodes, code)
	return nil
}

func (n *captureNotifier) SendSecurityAlert(_ context.Context, _, event string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, event)
	return nil
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, _, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetTokens = append(n.resetTokens, token)
	return nil
}

func (n *captureNotifier) SendEmailVerification(_ context.Context, _, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifyTokens = append(n.verifyTokens, token)
	return nil
}

func (n *captureNotifier) lastResetToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.resetTokens) == 0 {
		return ""
	}
	return n.resetTokens[len(n.resetTokens)-1]
}

func (n *captureNotifier) lastVerifyToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.verifyTokens) == 0 {
		return ""
	}
	return n.verifyTokens[len(n.verifyTokens)-1]
}
