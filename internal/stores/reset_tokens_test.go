package stores

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func saveTestReset(t *testing.T, store *ResetTokenStore, id, userID, secret string, now time.Time, ttl time.Duration) [32]byte {
	t.Helper()
	digest := sha256.Sum256([]byte(secret))
	err := store.Save(context.Background(), id, &ResetTokenRecord{
		UserID:     userID,
		SecretHash: digest,
		CreatedAt:  now.UnixMilli(),
		ExpiresAt:  now.Add(ttl).UnixMilli(),
		State:      ResetTokenIssued,
	}, ttl)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return digest
}

func TestResetTokenSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "t", time.Hour)
	ctx := context.Background()
	now := time.Now()

	digest := saveTestReset(t, store, "r1", "u1", "s3cret", now, 10*time.Minute)

	rec, err := store.Consume(ctx, "r1", digest, "u1", now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if rec.UserID != "u1" || rec.State != ResetTokenConsumed {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := store.Consume(ctx, "r1", digest, "u1", now); !errors.Is(err, ErrResetConsumed) {
		t.Fatalf("expected ErrResetConsumed on replay, got %v", err)
	}
	if _, err := store.Peek(ctx, "r1", digest, "u1", now); !errors.Is(err, ErrResetConsumed) {
		t.Fatalf("expected Peek to report consumed, got %v", err)
	}
}

func TestResetTokenRejections(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "t", time.Hour)
	ctx := context.Background()
	now := time.Now()

	digest := saveTestReset(t, store, "r1", "u1", "s3cret", now, time.Minute)
	wrong := sha256.Sum256([]byte("guess"))

	if _, err := store.Consume(ctx, "missing", digest, "", now); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("missing id: got %v", err)
	}
	if _, err := store.Consume(ctx, "r1", wrong, "", now); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("wrong secret: got %v", err)
	}
	if _, err := store.Consume(ctx, "r1", digest, "u2", now); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("wrong owner: got %v", err)
	}
	if _, err := store.Consume(ctx, "r1", digest, "u1", now.Add(time.Minute)); !errors.Is(err, ErrResetExpired) {
		t.Fatalf("expired: got %v", err)
	}

	// None of the rejections above consumed the token.
	if _, err := store.Consume(ctx, "r1", digest, "u1", now.Add(30*time.Second)); err != nil {
		t.Fatalf("expected token still redeemable: %v", err)
	}
}

func TestResetTokenPeekDoesNotConsume(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "t", time.Hour)
	ctx := context.Background()
	now := time.Now()

	digest := saveTestReset(t, store, "r1", "u1", "s3cret", now, time.Minute)
	for i := 0; i < 3; i++ {
		if _, err := store.Peek(ctx, "r1", digest, "u1", now); err != nil {
			t.Fatalf("Peek #%d: %v", i, err)
		}
	}
	if _, err := store.Consume(ctx, "r1", digest, "u1", now); err != nil {
		t.Fatalf("Consume after Peek: %v", err)
	}
}

func TestResetTokenRetentionOutlivesExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "t", time.Hour)
	ctx := context.Background()
	now := time.Now()

	digest := saveTestReset(t, store, "r1", "u1", "s3cret", now, time.Minute)

	ttl := mr.TTL("t:rt:r1")
	if ttl < time.Hour || ttl > time.Hour+time.Minute {
		t.Fatalf("expected key ttl of ttl+retention, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Consume(ctx, "r1", digest, "u1", now.Add(2*time.Minute)); !errors.Is(err, ErrResetExpired) {
		t.Fatalf("expected ErrResetExpired within retention, got %v", err)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Consume(ctx, "r1", digest, "u1", now.Add(3*time.Hour)); !errors.Is(err, ErrResetNotFound) {
		t.Fatalf("expected ErrResetNotFound after retention, got %v", err)
	}
}

func TestResetTokenConsumePreservesTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "t", time.Hour)
	now := time.Now()

	digest := saveTestReset(t, store, "r1", "u1", "s3cret", now, time.Minute)
	before := mr.TTL("t:rt:r1")

	if _, err := store.Consume(context.Background(), "r1", digest, "", now); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	after := mr.TTL("t:rt:r1")
	if after <= 0 || after > before {
		t.Fatalf("consume must keep the remaining lifetime: before=%v after=%v", before, after)
	}
}

func TestResetTokenRevokeAll(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "t", time.Hour)
	ctx := context.Background()
	now := time.Now()

	d1 := saveTestReset(t, store, "r1", "u1", "one", now, time.Minute)
	d2 := saveTestReset(t, store, "r2", "u1", "two", now, time.Minute)
	d3 := saveTestReset(t, store, "r3", "u2", "three", now, time.Minute)

	if _, err := store.Consume(ctx, "r1", d1, "u1", now); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	n, err := store.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one outstanding token revoked, got %d", n)
	}
	if _, err := store.Consume(ctx, "r2", d2, "u1", now); !errors.Is(err, ErrResetConsumed) {
		t.Fatalf("expected revoked token to read as consumed, got %v", err)
	}
	if _, err := store.Consume(ctx, "r3", d3, "u2", now); err != nil {
		t.Fatalf("other user's token must survive: %v", err)
	}
}

func TestResetTokenIndexTTLNeverShrinks(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "t", time.Hour)
	ctx := context.Background()
	now := time.Now()

	long := saveTestReset(t, store, "long", "u1", "long", now, 6*24*time.Hour)
	saveTestReset(t, store, "short", "u1", "short", now, time.Minute)

	if got, want := mr.TTL("t:rtu:u1"), 6*24*time.Hour+time.Hour; got < want {
		t.Fatalf("expected index ttl >= %v after a shorter issuance, got %v", want, got)
	}

	mr.FastForward(3 * time.Hour)
	n, err := store.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the long-lived token revoked, got %d", n)
	}
	if _, err := store.Consume(ctx, "long", long, "u1", now); !errors.Is(err, ErrResetConsumed) {
		t.Fatalf("expected long-lived token consumed, got %v", err)
	}
}

func TestResetTokenConcurrentConsumeExactlyOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewResetTokenStore(rdb, "t", time.Hour)
	ctx := context.Background()
	now := time.Now()

	digest := saveTestReset(t, store, "r1", "u1", "s3cret", now, time.Minute)

	const workers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, "r1", digest, "u1", now); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", got)
	}
}
