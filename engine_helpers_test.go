package goAdmin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = testSigningKey
	cfg.JWT.Audience = "goadmin-test"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Account.RequireActivation = true
	return cfg
}

// testClock is a settable clock. Now never moves unless Advance is called.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_760_000_000_000).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingTransport struct {
	mu      sync.Mutex
	intents []NotificationIntent
	err     error
	calls   int
}

func (r *recordingTransport) Send(_ context.Context, intent NotificationIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.err != nil {
		return r.err
	}
	r.intents = append(r.intents, intent)
	return nil
}

func (r *recordingTransport) Intents() []NotificationIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NotificationIntent(nil), r.intents...)
}

type testEngine struct {
	*Engine
	redis *redis.Client
	mr    *miniredis.Miniredis
	mail  *recordingTransport
	clock *testClock
}

func newTestEngine(t testing.TB, mutate func(*Config)) *testEngine {
	t.Helper()
	return newTestEngineWithSink(t, mutate, nil)
}

func newTestEngineWithSink(t testing.TB, mutate func(*Config), sink AuditSink) *testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mail := &recordingTransport{}
	clock := newTestClock()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithMailTransport(mail).
		WithClock(clock.Now).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, redis: rdb, mr: mr, mail: mail, clock: clock}
}

func (te *testEngine) mustCreateAdmin(t testing.TB, username, email, password string) *AdminUser {
	t.Helper()

	user, err := te.CreateAdminUser(context.Background(), CreateAdminUserRequest{
		Username:  username,
		Email:     email,
		Name:      username,
		Password:  password,
		Activated: true,
	})
	if err != nil {
		t.Fatalf("CreateAdminUser(%s) failed: %v", username, err)
	}
	return user
}

func (te *testEngine) mustCreateOrganization(t *testing.T, name, ownerID string, props map[string]any) *Organization {
	t.Helper()

	ctx := context.Background()
	org, err := te.CreateOrganization(ctx, name, ownerID)
	if err != nil {
		t.Fatalf("CreateOrganization(%s) failed: %v", name, err)
	}
	if len(props) > 0 {
		org, err = te.UpdateOrganizationProperties(ctx, org.ID, props)
		if err != nil {
			t.Fatalf("UpdateOrganizationProperties(%s) failed: %v", name, err)
		}
	}
	return org
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
