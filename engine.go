package goAdmin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/MrEthical07/goAdmin/internal/stores"
	"github.com/MrEthical07/goAdmin/jwt"
	"github.com/MrEthical07/goAdmin/password"
	"github.com/google/uuid"
)

// Engine manages admin users, their credentials and the tokens derived
// from them. Build one with New().…Build(). All methods are safe for
// concurrent use.
type Engine struct {
	config        Config
	identities    *stores.IdentityIndex
	credentials   *stores.CredentialStore
	admins        *stores.AdminStore
	organizations *stores.OrganizationStore
	resets        *stores.ResetTokenStore
	activations   *stores.ActivationStore
	passwordHash  *password.Argon2
	jwtManager    *jwt.Manager
	mail          MailTransport
	audit         *auditDispatcher
	metrics       *Metrics
	now           func() time.Time
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.credentials == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}
	return nil
}

// publicError maps a store failure onto the public taxonomy. Anything not
// recognized is reported as ErrUnavailable with the cause attached.
func publicError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrIdentityTaken),
		errors.Is(err, stores.ErrAdminExists):
		return ErrIdentityConflict
	case errors.Is(err, stores.ErrIdentityInvalid):
		return ErrInvalidInput
	case errors.Is(err, stores.ErrIdentityNotFound),
		errors.Is(err, stores.ErrAdminNotFound),
		errors.Is(err, stores.ErrCredentialNotFound):
		return ErrUserNotFound
	case errors.Is(err, stores.ErrOrganizationNotFound):
		return ErrOrganizationNotFound
	case errors.Is(err, stores.ErrOrganizationExists):
		return ErrOrganizationTaken
	case errors.Is(err, stores.ErrCredentialMismatch):
		return ErrInvalidCredentials
	case errors.Is(err, stores.ErrCredentialReused):
		return ErrPasswordReused
	case errors.Is(err, password.ErrPolicy):
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	case errors.Is(err, stores.ErrResetNotFound):
		return ErrResetTokenNotFound
	case errors.Is(err, stores.ErrResetExpired):
		return ErrResetTokenExpired
	case errors.Is(err, stores.ErrResetConsumed):
		return ErrResetTokenConsumed
	case errors.Is(err, stores.ErrActivationNotFound):
		return ErrActivationTokenInvalid
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// passwordHistorySize returns the reuse window that applies to userID: the
// largest passwordHistorySize among its organizations, read fresh.
func (e *Engine) passwordHistorySize(ctx context.Context, userID string) (int, error) {
	orgIDs, err := e.organizations.ForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	size := 0
	for _, id := range orgIDs {
		org, err := e.organizations.Get(ctx, id)
		if errors.Is(err, stores.ErrOrganizationNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n, ok := intProperty(org.Properties[PasswordHistorySizeProperty]); ok && n > size {
			size = n
		}
	}

	return min(size, e.config.Account.MaxPasswordHistorySize), nil
}

// intProperty reads a non-negative integer from a free-form property value.
func intProperty(v any) (int, bool) {
	var n int64
	switch t := v.(type) {
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		n = int64(t)
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, false
		}
		n = i
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

// resolveUserID accepts a username, an email or an admin ID.
func (e *Engine) resolveUserID(ctx context.Context, identifier string) (string, error) {
	id, err := e.identities.Resolve(ctx, identifier)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, stores.ErrIdentityNotFound) {
		return "", err
	}

	if _, parseErr := uuid.Parse(identifier); parseErr != nil {
		return "", err
	}
	if _, getErr := e.admins.Get(ctx, identifier); getErr != nil {
		return "", getErr
	}
	return identifier, nil
}

// loadAdmin assembles the public AdminUser from its profile, credential and
// membership records.
func (e *Engine) loadAdmin(ctx context.Context, userID string) (*AdminUser, error) {
	rec, err := e.admins.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	cred, err := e.credentials.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	orgs, err := e.organizations.ForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	user := adminFromRecord(rec)
	user.PasswordChanged = cred.PasswordChangedTime()
	user.Organizations = orgs
	return &user, nil
}

func adminFromRecord(rec *stores.AdminRecord) AdminUser {
	return AdminUser{
		ID:         rec.ID,
		Username:   rec.Username,
		Email:      rec.Email,
		Name:       rec.Name,
		State:      AccountState(rec.State),
		Properties: cloneProperties(rec.Properties),
		CreatedAt:  time.UnixMilli(rec.CreatedAt).UTC(),
		UpdatedAt:  time.UnixMilli(rec.UpdatedAt).UTC(),
	}
}

func cloneProperties(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

// mergeProperties applies patch to dst; nil values delete keys.
func mergeProperties(dst, patch map[string]any) map[string]any {
	if len(patch) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
	if len(dst) == 0 {
		return nil
	}
	return dst
}

func accountStateError(state AccountState, requireActivation bool) error {
	switch state {
	case StateDisabled:
		return ErrAccountDisabled
	case StateUnconfirmed:
		if requireActivation {
			return ErrAccountUnconfirmed
		}
	}
	return nil
}
