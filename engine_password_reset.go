package goAdmin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goAdmin/internal"
	"github.com/MrEthical07/goAdmin/internal/stores"
)

// IssueResetToken mints a single-use password reset token for userID that
// expires after ttl. A ttl <= 0 selects PasswordReset.DefaultTTL.
//
// Outstanding tokens stay valid unless PasswordReset.InvalidatePrevious is
// set, in which case they are consumed first.
func (e *Engine) IssueResetToken(ctx context.Context, userID string, ttl time.Duration) (*ResetToken, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = e.config.PasswordReset.DefaultTTL
	}
	if ttl > e.config.PasswordReset.MaxTTL {
		return nil, ErrInvalidInput
	}

	id, err := e.resolveUserID(ctx, userID)
	if err != nil {
		return nil, publicError(err)
	}
	if _, err := e.admins.Get(ctx, id); err != nil {
		return nil, publicError(err)
	}

	if e.config.PasswordReset.InvalidatePrevious {
		n, err := e.resets.RevokeAll(ctx, id)
		if err != nil {
			return nil, publicError(err)
		}
		if n > 0 {
			e.metricInc(MetricResetTokenRevoked)
		}
	}

	token, resetID, digest, err := internal.NewBearerToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := e.now()
	expiresAt := now.Add(ttl)
	record := &stores.ResetTokenRecord{
		UserID:     id,
		SecretHash: digest,
		CreatedAt:  now.UnixMilli(),
		ExpiresAt:  expiresAt.UnixMilli(),
		State:      stores.ResetTokenIssued,
	}
	if err := e.resets.Save(ctx, resetID.String(), record, ttl); err != nil {
		return nil, publicError(err)
	}

	e.metricInc(MetricResetTokenIssued)
	e.emitAudit(ctx, auditEventResetTokenIssued, true, id, "", nil, func() map[string]string {
		return map[string]string{
			"reset_id": resetID.String(),
			"ttl":      ttl.String(),
		}
	})

	return &ResetToken{
		Value:     token,
		UserID:    id,
		ExpiresAt: time.UnixMilli(record.ExpiresAt).UTC(),
	}, nil
}

// CheckResetToken reports whether token would currently redeem for userID.
// It never consumes the token. The error is non-nil only on backend failure.
func (e *Engine) CheckResetToken(ctx context.Context, userID, token string) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}

	resetID, secret, err := internal.DecodeToken(token)
	if err != nil {
		return false, nil
	}
	id, err := e.resolveUserID(ctx, userID)
	if err != nil {
		mapped := publicError(err)
		if errors.Is(mapped, ErrNotFound) {
			return false, nil
		}
		return false, mapped
	}

	_, err = e.resets.Peek(ctx, resetID.String(), internal.HashSecret(secret), id, e.now())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, stores.ErrResetNotFound),
		errors.Is(err, stores.ErrResetExpired),
		errors.Is(err, stores.ErrResetConsumed):
		return false, nil
	default:
		return false, publicError(err)
	}
}

// RedeemResetToken sets a new password using a reset token.
//
// Mismatched passwords and an unknown identifier are rejected before the
// token is touched. Once the token is consumed it stays consumed, even if
// the password is then refused for reuse.
func (e *Engine) RedeemResetToken(ctx context.Context, req RedeemResetRequest) error {
	if err := e.ready(); err != nil {
		return err
	}

	fail := func(userID string, err error, reason string) error {
		e.metricInc(MetricResetRedeemFailure)
		e.emitAudit(ctx, auditEventResetRedeemFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return err
	}

	if req.Password1 != req.Password2 {
		return fail("", ErrPasswordMismatch, "password_mismatch")
	}
	if err := e.passwordHash.CheckPolicy(req.Password1); err != nil {
		return fail("", publicError(err), "password_policy")
	}

	id, err := e.resolveUserID(ctx, req.Identifier)
	if err != nil {
		return fail("", publicError(err), "identifier")
	}

	resetID, secret, err := internal.DecodeToken(req.Token)
	if err != nil {
		return fail(id, ErrResetTokenNotFound, "malformed_token")
	}

	if _, err := e.resets.Consume(ctx, resetID.String(), internal.HashSecret(secret), id, e.now()); err != nil {
		mapped := publicError(err)
		if errors.Is(mapped, ErrResetTokenConsumed) {
			e.metricInc(MetricResetReplayRejected)
			e.emitAudit(ctx, auditEventResetReplay, false, id, "", mapped, func() map[string]string {
				return map[string]string{"reset_id": resetID.String()}
			})
			return mapped
		}
		return fail(id, mapped, "consume")
	}

	rec, err := e.setPassword(ctx, id, req.Password1)
	if err != nil {
		return fail(id, err, "credential_set")
	}

	e.metricInc(MetricResetRedeemSuccess)
	e.emitAudit(ctx, auditEventResetRedeemSuccess, true, id, "", nil, func() map[string]string {
		return map[string]string{
			"reset_id":         resetID.String(),
			"password_changed": strconv.FormatInt(rec.PasswordChanged, 10),
		}
	})
	return nil
}

// RevokeResetTokens consumes every outstanding reset token of userID and
// returns how many were revoked.
func (e *Engine) RevokeResetTokens(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}

	id, err := e.resolveUserID(ctx, userID)
	if err != nil {
		return 0, publicError(err)
	}

	n, err := e.resets.RevokeAll(ctx, id)
	if err != nil {
		return 0, publicError(err)
	}
	if n > 0 {
		e.metricInc(MetricResetTokenRevoked)
	}
	e.emitAudit(ctx, auditEventResetTokenRevoked, true, id, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return n, nil
}
