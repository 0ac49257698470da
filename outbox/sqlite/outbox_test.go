package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goAdmin "github.com/MrEthical07/goAdmin"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestOutbox(t *testing.T) (*Outbox, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.UnixMilli(1_760_000_000_000).UTC()}
	o, err := Open(context.Background(), filepath.Join(t.TempDir(), "outbox.db"), Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o, clock
}

func testIntent(id, recipient string) goAdmin.NotificationIntent {
	return goAdmin.NotificationIntent{
		ID:        id,
		Kind:      goAdmin.IntentReactivation,
		UserID:    "user-" + id,
		Recipient: recipient,
		Name:      "Alice",
		Artifact:  "token-" + id,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "  ", Options{}); err == nil {
		t.Fatal("expected empty path rejected")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	ctx := context.Background()

	first, err := Open(ctx, path, Options{})
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := first.Send(ctx, testIntent("01A", "a@example.com")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	_ = first.Close()

	second, err := Open(ctx, path, Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	n, err := second.Pending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pending after reopen, got %d err=%v", n, err)
	}
}

func TestSendDeduplicatesByID(t *testing.T) {
	o, _ := openTestOutbox(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := o.Send(ctx, testIntent("01A", "a@example.com")); err != nil {
			t.Fatalf("Send #%d failed: %v", i, err)
		}
	}
	if n, _ := o.Pending(ctx); n != 1 {
		t.Fatalf("expected 1 pending, got %d", n)
	}
}

func TestSendAssignsMissingID(t *testing.T) {
	o, _ := openTestOutbox(t)
	ctx := context.Background()

	intent := testIntent("", "a@example.com")
	if err := o.Send(ctx, intent); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := o.Send(ctx, intent); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if n, _ := o.Pending(ctx); n != 2 {
		t.Fatalf("expected two distinct intents, got %d", n)
	}
}

func TestSendRejectsIncompleteIntent(t *testing.T) {
	o, _ := openTestOutbox(t)
	if err := o.Send(context.Background(), goAdmin.NotificationIntent{ID: "x", Kind: goAdmin.IntentActivation}); err == nil {
		t.Fatal("expected missing recipient rejected")
	}
}

func TestLeaseOrderAndExclusivity(t *testing.T) {
	o, clock := openTestOutbox(t)
	ctx := context.Background()

	for _, id := range []string{"01C", "01A", "01B"} {
		if err := o.Send(ctx, testIntent(id, id+"@example.com")); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	got, err := o.Lease(ctx, "worker-1", 2, time.Minute)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if len(got) != 2 || got[0].Intent.ID != "01A" || got[1].Intent.ID != "01B" {
		t.Fatalf("unexpected lease order %+v", got)
	}
	if got[0].Attempts != 1 || got[0].Intent.Kind != goAdmin.IntentReactivation || got[0].Intent.Artifact != "token-01A" {
		t.Fatalf("unexpected leased message %+v", got[0])
	}

	rest, err := o.Lease(ctx, "worker-2", 10, time.Minute)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if len(rest) != 1 || rest[0].Intent.ID != "01C" {
		t.Fatalf("expected only the unleased intent, got %+v", rest)
	}

	clock.Advance(time.Minute)
	again, err := o.Lease(ctx, "worker-2", 10, time.Minute)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if len(again) != 3 || again[0].Attempts != 2 {
		t.Fatalf("expected every expired lease reclaimed, got %+v", again)
	}
}

func TestMarkDeliveredRequiresLiveLease(t *testing.T) {
	o, clock := openTestOutbox(t)
	ctx := context.Background()

	if err := o.Send(ctx, testIntent("01A", "a@example.com")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := o.Lease(ctx, "worker-1", 1, time.Minute); err != nil {
		t.Fatalf("Lease failed: %v", err)
	}

	if err := o.MarkDelivered(ctx, "01A", "worker-2"); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for foreign owner, got %v", err)
	}

	clock.Advance(2 * time.Minute)
	if err := o.MarkDelivered(ctx, "01A", "worker-1"); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost after expiry, got %v", err)
	}

	if _, err := o.Lease(ctx, "worker-1", 1, time.Minute); err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if err := o.MarkDelivered(ctx, "01A", "worker-1"); err != nil {
		t.Fatalf("MarkDelivered failed: %v", err)
	}
	if n, _ := o.Pending(ctx); n != 0 {
		t.Fatalf("expected nothing pending, got %d", n)
	}
	if err := o.MarkDelivered(ctx, "01A", "worker-1"); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected second ack rejected, got %v", err)
	}
}

func TestReleaseRecordsErrorAndRequeues(t *testing.T) {
	o, _ := openTestOutbox(t)
	ctx := context.Background()

	if err := o.Send(ctx, testIntent("01A", "a@example.com")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := o.Lease(ctx, "worker-1", 1, time.Hour); err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if err := o.Release(ctx, "01A", "worker-1", errors.New("smtp 451")); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	got, err := o.Lease(ctx, "worker-2", 1, time.Hour)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if len(got) != 1 || got[0].LastError != "smtp 451" || got[0].Attempts != 2 {
		t.Fatalf("unexpected requeued message %+v", got)
	}
}

func TestLeaseValidatesArguments(t *testing.T) {
	o, _ := openTestOutbox(t)
	ctx := context.Background()

	if _, err := o.Lease(ctx, "", 1, time.Minute); err == nil {
		t.Fatal("expected empty owner rejected")
	}
	if _, err := o.Lease(ctx, "w", 0, time.Minute); err == nil {
		t.Fatal("expected zero limit rejected")
	}
	if _, err := o.Lease(ctx, "w", 1, 0); err == nil {
		t.Fatal("expected zero lease duration rejected")
	}
}

func TestNilOutbox(t *testing.T) {
	var o *Outbox
	if err := o.Send(context.Background(), testIntent("01A", "a@example.com")); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("expected nil Close on nil outbox, got %v", err)
	}
}

func TestEngineReactivationLandsInOutbox(t *testing.T) {
	o, _ := openTestOutbox(t)
	ctx := context.Background()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := goAdmin.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	engine, err := goAdmin.New().WithConfig(cfg).WithRedis(rdb).WithMailTransport(o).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	user, err := engine.CreateAdminUser(ctx, goAdmin.CreateAdminUserRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Name:     "Alice",
		Password: "alice-password",
	})
	if err != nil {
		t.Fatalf("CreateAdminUser failed: %v", err)
	}
	if err := engine.TriggerReactivation(ctx, user.ID); err != nil {
		t.Fatalf("TriggerReactivation failed: %v", err)
	}

	got, err := o.Lease(ctx, "mailer", 10, time.Minute)
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected activation and reactivation intents, got %d", len(got))
	}
	if got[0].Intent.Kind != goAdmin.IntentActivation || got[1].Intent.Kind != goAdmin.IntentReactivation {
		t.Fatalf("unexpected intent order %s, %s", got[0].Intent.Kind, got[1].Intent.Kind)
	}
	for _, msg := range got {
		if msg.Intent.Recipient != "alice@example.com" || msg.Intent.UserID != user.ID || msg.Intent.Artifact == "" {
			t.Fatalf("unexpected intent %+v", msg.Intent)
		}
	}
}
