package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MFAChallengeStore holds the short-lived state of a step-up challenge:
// the hashed one-shot code (email method) keyed by pending-token id, and
// the per-principal attempt counter used for rate limiting.
type MFAChallengeStore interface {
	StoreCode(ctx context.Context, tokenID, codeHash string, ttl time.Duration) error
	// ConsumeCode returns the stored hash and deletes it in one step, so
	// a code can never verify twice.
	ConsumeCode(ctx context.Context, tokenID string) (string, error)
	IncrAttempts(ctx context.Context, userID string, window time.Duration) (int64, error)
}

// HashMFACode produces the stored form of a one-shot code.
func HashMFACode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

type RedisMFAChallengeStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisMFAChallengeStore(client redis.UniversalClient, prefix string) *RedisMFAChallengeStore {
	if prefix == "" {
		prefix = "mfa"
	}
	return &RedisMFAChallengeStore{client: client, prefix: prefix}
}

func (s *RedisMFAChallengeStore) StoreCode(ctx context.Context, tokenID, codeHash string, ttl time.Duration) error {
	return s.client.Set(ctx, s.codeKey(tokenID), codeHash, ttl).Err()
}

func (s *RedisMFAChallengeStore) ConsumeCode(ctx context.Context, tokenID string) (string, error) {
	hash, err := s.client.GetDel(ctx, s.codeKey(tokenID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return hash, err
}

func (s *RedisMFAChallengeStore) IncrAttempts(ctx context.Context, userID string, window time.Duration) (int64, error) {
	key := s.attemptKey(userID)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisMFAChallengeStore) codeKey(tokenID string) string {
	return fmt.Sprintf("%s:code:%s", s.prefix, tokenID)
}

func (s *RedisMFAChallengeStore) attemptKey(userID string) string {
	return fmt.Sprintf("%s:attempts:%s", s.prefix, userID)
}

// InMemoryMFAChallengeStore backs tests and single-process deployments.
type InMemoryMFAChallengeStore struct {
	mu       sync.Mutex
	codes    map[string]memoryCode
	attempts map[string]memoryAttempts
}

type memoryCode struct {
	hash      string
	expiresAt time.Time
}

type memoryAttempts struct {
	count    int64
	windowTo time.Time
}

func NewInMemoryMFAChallengeStore() *InMemoryMFAChallengeStore {
	return &InMemoryMFAChallengeStore{
		codes:    make(map[string]memoryCode),
		attempts: make(map[string]memoryAttempts),
	}
}

func (s *InMemoryMFAChallengeStore) StoreCode(_ context.Context, tokenID, codeHash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[tokenID] = memoryCode{hash: codeHash, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *InMemoryMFAChallengeStore) ConsumeCode(_ context.Context, tokenID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[tokenID]
	delete(s.codes, tokenID)
	if !ok || time.Now().After(c.expiresAt) {
		return "", nil
	}
	return c.hash, nil
}

func (s *InMemoryMFAChallengeStore) IncrAttempts(_ context.Context, userID string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	a := s.attempts[userID]
	if now.After(a.windowTo) {
		a = memoryAttempts{windowTo: now.Add(window)}
	}
	a.count++
	s.attempts[userID] = a
	return a.count, nil
}
