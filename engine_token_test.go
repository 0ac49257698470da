package goAdmin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
)

func issue(t *testing.T, te *testEngine, username, password string) *AccessToken {
	t.Helper()
	token, err := te.IssueToken(context.Background(), TokenRequest{
		GrantType: GrantPassword,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		t.Fatalf("IssueToken(%s) failed: %v", username, err)
	}
	return token
}

func TestIssueTokenAndMeAgreeOnPasswordChanged(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	alice := te.mustCreateAdmin(t, "Alice", "alice@example.com", "alice-password")

	token := issue(t, te, "ALICE", "alice-password")
	if token.User.ID != alice.ID {
		t.Fatalf("expected token for %s, got %s", alice.ID, token.User.ID)
	}
	if token.ExpiresIn != te.config.JWT.AccessTTL {
		t.Fatalf("expected ExpiresIn %v, got %v", te.config.JWT.AccessTTL, token.ExpiresIn)
	}

	claims, err := te.jwtManager.ParseAccess(token.Value)
	if err != nil {
		t.Fatalf("ParseAccess failed: %v", err)
	}
	if claims.UID != alice.ID || claims.PasswordChanged != token.PasswordChangedMillis() {
		t.Fatalf("claims %+v disagree with response pwc %d", claims, token.PasswordChangedMillis())
	}

	me, err := te.Me(ctx, token.Value)
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	if !me.PasswordChanged.Equal(token.PasswordChanged) {
		t.Fatalf("Me passwordChanged %v differs from IssueToken %v", me.PasswordChanged, token.PasswordChanged)
	}
	if me.User.Username != "Alice" {
		t.Fatalf("unexpected user %+v", me.User)
	}

	byEmail := issue(t, te, "Alice@Example.com", "alice-password")
	if byEmail.User.ID != alice.ID {
		t.Fatal("expected email to resolve to the same admin")
	}
}

func TestPasswordChangeStalesEarlierTokens(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	te.mustCreateAdmin(t, "alice", "alice@example.com", "password-1")

	before := issue(t, te, "alice", "password-1")
	if err := te.ChangePassword(ctx, "alice", "password-1", "password-2"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	after := issue(t, te, "alice", "password-2")

	if after.PasswordChangedMillis() <= before.PasswordChangedMillis() {
		t.Fatalf("expected pwc to increase, got %d then %d", before.PasswordChangedMillis(), after.PasswordChangedMillis())
	}

	_, err := te.ValidateAccess(ctx, before.Value)
	expectErr(t, err, ErrAccessTokenStale)
	if HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", HTTPStatus(err))
	}
	if _, err := te.Me(ctx, before.Value); !errors.Is(err, ErrAccessTokenStale) {
		t.Fatalf("expected Me to reject stale token, got %v", err)
	}

	result, err := te.ValidateAccess(ctx, after.Value)
	if err != nil {
		t.Fatalf("ValidateAccess(after) failed: %v", err)
	}
	if !result.PasswordChanged.Equal(after.PasswordChanged) {
		t.Fatalf("expected validated pwc %v, got %v", after.PasswordChanged, result.PasswordChanged)
	}
}

func TestStaleTokensAcceptedWhenRevocationDisabled(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) {
		cfg.JWT.RevokeOnPasswordChange = false
	})
	ctx := context.Background()

	te.mustCreateAdmin(t, "alice", "alice@example.com", "password-1")
	before := issue(t, te, "alice", "password-1")
	if err := te.SetPassword(ctx, "alice", "password-2"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}

	if _, err := te.ValidateAccess(ctx, before.Value); err != nil {
		t.Fatalf("expected token accepted without revocation, got %v", err)
	}
}

func TestIssueTokenRejections(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) {
		cfg.Activation.SendOnCreate = false
	})
	ctx := context.Background()

	te.mustCreateAdmin(t, "alice", "alice@example.com", "alice-password")
	if _, err := te.CreateAdminUser(ctx, CreateAdminUserRequest{
		Username: "newbie",
		Email:    "newbie@example.com",
		Password: "newbie-password",
	}); err != nil {
		t.Fatalf("create unconfirmed admin failed: %v", err)
	}
	if _, err := te.CreateAdminUser(ctx, CreateAdminUserRequest{
		Username:  "gone",
		Email:     "gone@example.com",
		Password:  "gone-password",
		Activated: true,
		Disabled:  true,
	}); err != nil {
		t.Fatalf("create disabled admin failed: %v", err)
	}

	cases := []struct {
		name string
		req  TokenRequest
		want error
	}{
		{name: "wrong password", req: TokenRequest{GrantType: GrantPassword, Username: "alice", Password: "nope"}, want: ErrInvalidCredentials},
		{name: "unknown user", req: TokenRequest{GrantType: GrantPassword, Username: "mallory", Password: "whatever"}, want: ErrInvalidCredentials},
		{name: "unsupported grant", req: TokenRequest{GrantType: "client_credentials", Username: "alice", Password: "alice-password"}, want: ErrUnsupportedGrant},
		{name: "unconfirmed", req: TokenRequest{GrantType: GrantPassword, Username: "newbie", Password: "newbie-password"}, want: ErrAccountUnconfirmed},
		{name: "disabled", req: TokenRequest{GrantType: GrantPassword, Username: "gone", Password: "gone-password"}, want: ErrAccountDisabled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := te.IssueToken(ctx, tc.req)
			expectErr(t, err, tc.want)
		})
	}
}

func TestIssueTokenUnconfirmedAllowedWhenActivationOptional(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) {
		cfg.Account.RequireActivation = false
	})
	ctx := context.Background()

	if _, err := te.CreateAdminUser(ctx, CreateAdminUserRequest{
		Username: "newbie",
		Email:    "newbie@example.com",
		Password: "newbie-password",
	}); err != nil {
		t.Fatalf("CreateAdminUser failed: %v", err)
	}
	issue(t, te, "newbie", "newbie-password")
}

func TestValidateAccessRejectsDisabledAndForeignTokens(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	te.mustCreateAdmin(t, "alice", "alice@example.com", "alice-password")
	token := issue(t, te, "alice", "alice-password")

	if _, err := te.ValidateAccess(ctx, "not.a.jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}

	other := newTestEngine(t, func(cfg *Config) {
		cfg.JWT.PrivateKey = []byte("another-32-byte-signing-secret!!")
	})
	if _, err := other.ValidateAccess(ctx, token.Value); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected foreign signature rejected, got %v", err)
	}

	if err := te.SetAdminUserState(ctx, "alice", StateDisabled); err != nil {
		t.Fatalf("SetAdminUserState failed: %v", err)
	}
	if _, err := te.ValidateAccess(ctx, token.Value); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected disabled admin rejected, got %v", err)
	}
}

func TestTokenLatencyHistogramRecorded(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) {
		cfg.Metrics.Enabled = true
		cfg.Metrics.EnableLatencyHistograms = true
	})

	te.mustCreateAdmin(t, "alice", "alice@example.com", "alice-password")
	issue(t, te, "alice", "alice-password")

	snap := te.MetricsSnapshot()
	var total uint64
	for _, n := range snap.Histograms[MetricTokenIssueLatency] {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected one token issue observation, got %d", total)
	}
	if snap.Counters[MetricTokenIssueSuccess] != 1 {
		t.Fatalf("expected one success, got %d", snap.Counters[MetricTokenIssueSuccess])
	}
}

// afterGetHook runs fire once, right after the first GET of key completes.
type afterGetHook struct {
	key   string
	armed atomic.Bool
	fire  func()
}

func (h *afterGetHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *afterGetHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		args := cmd.Args()
		if cmd.Name() == "get" && len(args) == 2 && args[1] == h.key && h.armed.CompareAndSwap(true, false) {
			h.fire()
		}
		return err
	}
}

func (h *afterGetHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestIssueTokenRacingPasswordChangeCarriesOldPwc(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	alice := te.mustCreateAdmin(t, "alice", "alice@example.com", "old-password")
	before, err := te.credentials.Get(ctx, alice.ID)
	if err != nil {
		t.Fatalf("credentials.Get failed: %v", err)
	}

	hook := &afterGetHook{key: te.config.Store.RedisPrefix + ":c:" + alice.ID}
	hook.fire = func() {
		if err := te.ChangePassword(ctx, alice.ID, "old-password", "new-password"); err != nil {
			t.Errorf("ChangePassword during grant failed: %v", err)
		}
	}
	te.redis.AddHook(hook)
	hook.armed.Store(true)

	token, err := te.IssueToken(ctx, TokenRequest{GrantType: GrantPassword, Username: "alice", Password: "old-password"})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if hook.armed.Load() {
		t.Fatal("expected the password change to run during the grant")
	}
	if token.PasswordChangedMillis() != before.PasswordChanged {
		t.Fatalf("expected pwc %d from the verified record, got %d", before.PasswordChanged, token.PasswordChangedMillis())
	}

	if _, err := te.ValidateAccess(ctx, token.Value); !errors.Is(err, ErrAccessTokenStale) {
		t.Fatalf("expected grant made with the old password to be stale, got %v", err)
	}
}

func TestIssueTokenUpgradesWeakHash(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	alice := te.mustCreateAdmin(t, "alice", "alice@example.com", "alice-password")
	before, err := te.credentials.Get(ctx, alice.ID)
	if err != nil {
		t.Fatalf("credentials.Get failed: %v", err)
	}
	earlier := issue(t, te, "alice", "alice-password")

	cfg := testConfig()
	cfg.Password.Time = 2
	stronger, err := New().WithConfig(cfg).WithRedis(te.redis).WithClock(te.clock.Now).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(stronger.Close)

	if _, err := stronger.IssueToken(ctx, TokenRequest{GrantType: GrantPassword, Username: "alice", Password: "alice-password"}); err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	after, err := te.credentials.Get(ctx, alice.ID)
	if err != nil {
		t.Fatalf("credentials.Get failed: %v", err)
	}
	if after.Hash == before.Hash || !strings.Contains(after.Hash, ",t=2,") {
		t.Fatalf("expected hash re-encoded with t=2, got %s", after.Hash)
	}
	if after.PasswordChanged != before.PasswordChanged || len(after.History) != len(before.History) {
		t.Fatalf("rehash must not touch freshness or history: before %+v after %+v", before, after)
	}

	if _, err := stronger.ValidateAccess(ctx, earlier.Value); err != nil {
		t.Fatalf("expected token to survive rehash: %v", err)
	}
}
