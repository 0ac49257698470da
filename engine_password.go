package goAdmin

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/MrEthical07/goAdmin/internal/stores"
)

// ChangePassword replaces the admin's password after verifying oldPassword.
//
// The new password is rejected with ErrPasswordReused when it matches the
// current password or any of the newest passwordHistorySize retired ones,
// where the size is the largest configured across the admin's
// organizations. Every check runs before the write, and the credential
// update and the new passwordChanged timestamp commit together.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	id, err := e.resolveUserID(ctx, userID)
	if err != nil {
		mapped := publicError(err)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, "", mapped, nil)
		return mapped
	}

	if err := e.passwordHash.CheckPolicy(newPassword); err != nil {
		mapped := publicError(err)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, id, "", mapped, func() map[string]string {
			return map[string]string{"reason": "password_policy"}
		})
		return mapped
	}

	historySize, err := e.passwordHistorySize(ctx, id)
	if err != nil {
		mapped := publicError(err)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, id, "", mapped, nil)
		return mapped
	}

	rec, err := e.credentials.Change(ctx, id, oldPassword, newPassword, historySize, e.now())
	if err != nil {
		mapped := publicError(err)
		switch {
		case errors.Is(mapped, ErrInvalidCredentials):
			e.metricInc(MetricPasswordChangeInvalidOld)
			e.emitAudit(ctx, auditEventPasswordChangeInvalidOld, false, id, "", mapped, nil)
		case errors.Is(mapped, ErrPasswordReused):
			e.metricInc(MetricPasswordChangeReuseRejected)
			e.emitAudit(ctx, auditEventPasswordChangeReuse, false, id, "", mapped, func() map[string]string {
				return map[string]string{"history_size": strconv.Itoa(historySize)}
			})
		default:
			e.emitAudit(ctx, auditEventPasswordChangeFailure, false, id, "", mapped, nil)
		}
		return mapped
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, id, "", nil, func() map[string]string {
		return map[string]string{
			"history_size":     strconv.Itoa(historySize),
			"password_changed": strconv.FormatInt(rec.PasswordChanged, 10),
		}
	})
	return nil
}

// SetPassword is the administrative variant of ChangePassword. It does not
// require the old password but applies the same history rules.
func (e *Engine) SetPassword(ctx context.Context, userID, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	id, err := e.resolveUserID(ctx, userID)
	if err != nil {
		return publicError(err)
	}

	rec, err := e.setPassword(ctx, id, newPassword)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordSet, false, id, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordSetSuccess)
	e.emitAudit(ctx, auditEventPasswordSet, true, id, "", nil, func() map[string]string {
		return map[string]string{"password_changed": strconv.FormatInt(rec.PasswordChanged, 10)}
	})
	return nil
}

// setPassword is shared by SetPassword and RedeemResetToken. Errors are
// already mapped onto the public taxonomy.
func (e *Engine) setPassword(ctx context.Context, userID, newPassword string) (*stores.CredentialRecord, error) {
	if err := e.passwordHash.CheckPolicy(newPassword); err != nil {
		return nil, publicError(err)
	}

	historySize, err := e.passwordHistorySize(ctx, userID)
	if err != nil {
		return nil, publicError(err)
	}

	rec, err := e.credentials.Set(ctx, userID, newPassword, historySize, e.now())
	if err != nil {
		mapped := publicError(err)
		if errors.Is(mapped, ErrPasswordReused) {
			e.metricInc(MetricPasswordChangeReuseRejected)
		}
		return nil, mapped
	}
	return rec, nil
}

// upgradeHash re-hashes a just-verified password when the stored hash was
// made with weaker Argon2 parameters than the engine's. Failures are logged
// and never fail the caller.
func (e *Engine) upgradeHash(ctx context.Context, userID string, cred *stores.CredentialRecord, plaintext string) {
	stale, err := e.passwordHash.NeedsUpgrade(cred.Hash)
	if err != nil || !stale {
		return
	}
	hash, err := e.passwordHash.Hash(plaintext)
	if err != nil {
		log.Printf("goAdmin: rehash %s: %v", userID, err)
		return
	}
	if _, err := e.credentials.Rehash(ctx, userID, cred.Hash, hash); err != nil {
		log.Printf("goAdmin: rehash %s: %v", userID, err)
	}
}
