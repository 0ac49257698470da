package goAdmin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAdmin/internal/stores"
	"github.com/MrEthical07/goAdmin/password"
)

// IssueToken runs the resource-owner password grant.
//
// The username may be given as username or email in any case. The returned
// PasswordChanged and the token's pwc claim come from the credential
// record the password was verified against, so a grant that races a
// password change carries the older pwc.
func (e *Engine) IssueToken(ctx context.Context, req TokenRequest) (*AccessToken, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.metricObserve(MetricTokenIssueLatency, start)

	fail := func(userID string, err error) (*AccessToken, error) {
		e.metricInc(MetricTokenIssueFailure)
		e.emitAudit(ctx, auditEventTokenIssueFailure, false, userID, "", err, nil)
		return nil, err
	}

	if req.GrantType != GrantPassword {
		return fail("", ErrUnsupportedGrant)
	}

	userID, err := e.identities.Resolve(ctx, req.Username)
	if err != nil {
		if errors.Is(err, stores.ErrIdentityNotFound) {
			return fail("", ErrInvalidCredentials)
		}
		return fail("", publicError(err))
	}

	cred, ok, err := e.credentials.Verify(ctx, userID, req.Password)
	switch {
	case errors.Is(err, password.ErrPolicy), errors.Is(err, stores.ErrCredentialNotFound):
		return fail(userID, ErrInvalidCredentials)
	case err != nil:
		return fail(userID, publicError(err))
	case !ok:
		return fail(userID, ErrInvalidCredentials)
	}

	user, err := e.loadAdmin(ctx, userID)
	if err != nil {
		return fail(userID, publicError(err))
	}
	if err := accountStateError(user.State, e.config.Account.RequireActivation); err != nil {
		return fail(userID, err)
	}
	user.PasswordChanged = cred.PasswordChangedTime()
	e.upgradeHash(ctx, userID, cred, req.Password)

	value, _, err := e.jwtManager.CreateAccess(user.ID, user.Username, user.PasswordChanged.UnixMilli())
	if err != nil {
		return fail(userID, fmt.Errorf("%w: %v", ErrUnavailable, err))
	}

	e.metricInc(MetricTokenIssueSuccess)
	e.emitAudit(ctx, auditEventTokenIssueSuccess, true, userID, "", nil, nil)

	return &AccessToken{
		Value:           value,
		ExpiresIn:       e.jwtManager.AccessTTL(),
		PasswordChanged: user.PasswordChanged,
		User:            *user,
	}, nil
}

// ValidateAccess verifies an access token and checks it against the
// admin's current credential state.
//
// With JWT.RevokeOnPasswordChange, a token whose pwc claim predates the
// stored passwordChanged fails with ErrAccessTokenStale.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.metricObserve(MetricValidateLatency, start)

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricTokenValidateFailure)
		return nil, ErrTokenInvalid
	}

	cred, err := e.credentials.Get(ctx, claims.UID)
	if err != nil {
		e.metricInc(MetricTokenValidateFailure)
		if errors.Is(err, stores.ErrCredentialNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, publicError(err)
	}
	if e.config.JWT.RevokeOnPasswordChange && claims.PasswordChanged < cred.PasswordChanged {
		e.metricInc(MetricTokenStaleRejected)
		return nil, ErrAccessTokenStale
	}

	rec, err := e.admins.Get(ctx, claims.UID)
	if err != nil {
		e.metricInc(MetricTokenValidateFailure)
		if errors.Is(err, stores.ErrAdminNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, publicError(err)
	}
	if AccountState(rec.State) == StateDisabled {
		e.metricInc(MetricTokenValidateFailure)
		return nil, ErrAccountDisabled
	}

	result := &AccessResult{
		UserID:          claims.UID,
		Username:        rec.Username,
		PasswordChanged: cred.PasswordChangedTime(),
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}

// Me returns the token holder in the same shape as IssueToken.
// PasswordChanged is read through the same path IssueToken uses.
func (e *Engine) Me(ctx context.Context, accessToken string) (*AccessToken, error) {
	result, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	user, err := e.loadAdmin(ctx, result.UserID)
	if err != nil {
		return nil, publicError(err)
	}

	expiresIn := time.Duration(0)
	if !result.ExpiresAt.IsZero() {
		expiresIn = max(time.Until(result.ExpiresAt), 0)
	}

	return &AccessToken{
		Value:           accessToken,
		ExpiresIn:       expiresIn,
		PasswordChanged: user.PasswordChanged,
		User:            *user,
	}, nil
}
