package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDualBlacklistStoreAddAndContains(t *testing.T) {
	_, client := newMiniredis(t)
	repo := newFakeBlacklistRepo()
	store := NewDualBlacklistStore(NewRedisBlacklistCache(client, "blacklist"), repo, 150*time.Millisecond, discardLogger())
	ctx := context.Background()

	if err := store.Add(ctx, "jti-1", "u1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}

	revoked, err := store.Contains(ctx, "jti-1")
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if !revoked {
		t.Fatal("added token must be revoked")
	}

	// The write-through cache should satisfy the lookup without the
	// durable store.
	before := repo.finds
	if _, err := store.Contains(ctx, "jti-1"); err != nil {
		t.Fatalf("second contains: %v", err)
	}
	if repo.finds != before {
		t.Fatalf("expected cache hit, store consulted %d extra times", repo.finds-before)
	}

	revoked, err = store.Contains(ctx, "unknown")
	if err != nil {
		t.Fatalf("contains unknown: %v", err)
	}
	if revoked {
		t.Fatal("unknown token must not be revoked")
	}
}

func TestDualBlacklistStoreAddIdempotent(t *testing.T) {
	_, client := newMiniredis(t)
	store := NewDualBlacklistStore(NewRedisBlacklistCache(client, "blacklist"), newFakeBlacklistRepo(), 150*time.Millisecond, discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.Add(ctx, "jti-dup", "u1", time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	revoked, err := store.Contains(ctx, "jti-dup")
	if err != nil || !revoked {
		t.Fatalf("contains after repeated add: %v %v", revoked, err)
	}
}

func TestDualBlacklistStoreRepopulatesCache(t *testing.T) {
	server, client := newMiniredis(t)
	repo := newFakeBlacklistRepo()
	store := NewDualBlacklistStore(NewRedisBlacklistCache(client, "blacklist"), repo, 150*time.Millisecond, discardLogger())
	ctx := context.Background()

	if err := store.Add(ctx, "jti-2", "u1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}
	server.FlushAll()

	revoked, err := store.Contains(ctx, "jti-2")
	if err != nil {
		t.Fatalf("contains after flush: %v", err)
	}
	if !revoked {
		t.Fatal("durable row must answer after cache loss")
	}
	if !server.Exists("blacklist:token:jti-2") {
		t.Fatal("lookup must repopulate the cache")
	}
}

func TestDualBlacklistStoreCacheDownFallsThrough(t *testing.T) {
	server, client := newMiniredis(t)
	repo := newFakeBlacklistRepo()
	store := NewDualBlacklistStore(NewRedisBlacklistCache(client, "blacklist"), repo, 150*time.Millisecond, discardLogger())
	ctx := context.Background()

	if err := store.Add(ctx, "jti-3", "u1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}
	server.Close()

	revoked, err := store.Contains(ctx, "jti-3")
	if err != nil {
		t.Fatalf("contains with dead cache: %v", err)
	}
	if !revoked {
		t.Fatal("durable store must remain authoritative with the cache down")
	}
}

func TestDualBlacklistStoreFailsClosedOnDurableError(t *testing.T) {
	_, client := newMiniredis(t)
	repo := newFakeBlacklistRepo()
	repo.failure = errStoreDown
	store := NewDualBlacklistStore(NewRedisBlacklistCache(client, "blacklist"), repo, 150*time.Millisecond, discardLogger())
	ctx := context.Background()

	if err := store.Add(ctx, "jti-4", "u1", time.Now().Add(time.Hour)); err == nil {
		t.Fatal("add must surface durable store failure")
	}
	if _, err := store.Contains(ctx, "jti-4"); !errors.Is(err, errStoreDown) {
		t.Fatalf("contains must fail closed, got %v", err)
	}
}

func TestDualBlacklistStoreUserCutoff(t *testing.T) {
	_, client := newMiniredis(t)
	repo := newFakeBlacklistRepo()
	store := NewDualBlacklistStore(NewRedisBlacklistCache(client, "blacklist"), repo, 150*time.Millisecond, discardLogger())
	ctx := context.Background()

	cutoff := time.Now().UTC()
	if err := store.RevokeUser(ctx, "u1", cutoff, cutoff.Add(time.Hour)); err != nil {
		t.Fatalf("revoke user: %v", err)
	}

	revoked, err := store.IsUserRevoked(ctx, "u1", cutoff.Add(-time.Minute))
	if err != nil || !revoked {
		t.Fatalf("token issued before cutoff must be revoked: %v %v", revoked, err)
	}
	// Strictly-before semantics: a token minted in the same instant as
	// the cutoff belongs to the login that happened after the revocation.
	revoked, err = store.IsUserRevoked(ctx, "u1", cutoff)
	if err != nil || revoked {
		t.Fatalf("token issued exactly at cutoff must stay valid: %v %v", revoked, err)
	}
	revoked, err = store.IsUserRevoked(ctx, "u1", cutoff.Add(time.Minute))
	if err != nil {
		t.Fatalf("cutoff check: %v", err)
	}
	if revoked {
		t.Fatal("token issued after cutoff must stay valid")
	}
	revoked, err = store.IsUserRevoked(ctx, "u2", cutoff)
	if err != nil || revoked {
		t.Fatalf("other principals must be unaffected: %v %v", revoked, err)
	}
}

func TestNoopBlacklistCacheAnswersNothing(t *testing.T) {
	repo := newFakeBlacklistRepo()
	store := NewDualBlacklistStore(nil, repo, 0, discardLogger())
	ctx := context.Background()

	if err := store.Add(ctx, "jti-5", "u1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}
	revoked, err := store.Contains(ctx, "jti-5")
	if err != nil || !revoked {
		t.Fatalf("durable-only store must still answer: %v %v", revoked, err)
	}
}

func TestDualBlacklistStoreConsumeFirstCallerWins(t *testing.T) {
	_, client := newMiniredis(t)
	store := NewDualBlacklistStore(NewRedisBlacklistCache(client, "blacklist"), newFakeBlacklistRepo(), 150*time.Millisecond, discardLogger())
	ctx := context.Background()

	fresh, err := store.Consume(ctx, "jti-once", "u1", time.Now().Add(time.Hour))
	if err != nil || !fresh {
		t.Fatalf("first consume: fresh=%v err=%v", fresh, err)
	}
	fresh, err = store.Consume(ctx, "jti-once", "u1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if fresh {
		t.Fatal("second consume of the same token must not be fresh")
	}

	revoked, err := store.Contains(ctx, "jti-once")
	if err != nil || !revoked {
		t.Fatalf("consumed token must be revoked: %v %v", revoked, err)
	}
}

func TestDualBlacklistStoreConsumeConcurrent(t *testing.T) {
	_, client := newMiniredis(t)
	store := NewDualBlacklistStore(NewRedisBlacklistCache(client, "blacklist"), newFakeBlacklistRepo(), 150*time.Millisecond, discardLogger())
	ctx := context.Background()

	const racers = 8
	results := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := store.Consume(ctx, "jti-race", "u1", time.Now().Add(time.Hour))
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			results <- fresh
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for fresh := range results {
		if fresh {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one fresh consume, got %d", winners)
	}
}
