package goAdmin

import (
	"context"
	"errors"
)

const (
	auditEventAdminCreateSuccess        = "admin_create_success"
	auditEventAdminCreateFailure        = "admin_create_failure"
	auditEventAdminCreateDuplicate      = "admin_create_duplicate"
	auditEventAdminUpdate               = "admin_update"
	auditEventAdminStateChange          = "admin_state_change"
	auditEventPasswordChangeSuccess     = "password_change_success"
	auditEventPasswordChangeInvalidOld  = "password_change_invalid_old"
	auditEventPasswordChangeReuse       = "password_change_reuse_attempt"
	auditEventPasswordChangeFailure     = "password_change_failure"
	auditEventPasswordSet               = "password_set"
	auditEventResetTokenIssued          = "reset_token_issued"
	auditEventResetTokenRevoked         = "reset_token_revoked"
	auditEventResetRedeemSuccess        = "reset_redeem_success"
	auditEventResetRedeemFailure        = "reset_redeem_failure"
	auditEventResetReplay               = "reset_replay"
	auditEventTokenIssueSuccess         = "token_issue_success"
	auditEventTokenIssueFailure         = "token_issue_failure"
	auditEventActivationSent            = "activation_sent"
	auditEventReactivationSent          = "reactivation_sent"
	auditEventActivationConfirmed       = "activation_confirmed"
	auditEventActivationFailure         = "activation_failure"
	auditEventNotificationFailure       = "notification_failure"
	auditEventOrganizationCreated       = "organization_created"
	auditEventOrganizationUpdated       = "organization_updated"
	auditEventOrganizationMemberAdded   = "organization_member_added"
	auditEventOrganizationMemberRemoved = "organization_member_removed"
)

// AuditErrorCode is the stable, non-sensitive error label carried in
// AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrAccountUnconfirmed AuditErrorCode = "account_unconfirmed"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenConsumed      AuditErrorCode = "token_consumed"
	auditErrTokenStale         AuditErrorCode = "token_stale"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordMismatch   AuditErrorCode = "password_mismatch"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	organizationID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:      e.now().UTC(),
		EventType:      eventType,
		UserID:         userID,
		ActorID:        actorIDFromContext(ctx),
		OrganizationID: organizationID,
		IP:             clientIPFromContext(ctx),
		Success:        success,
		Metadata:       metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountUnconfirmed):
		return auditErrAccountUnconfirmed
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrIdentityConflict),
		errors.Is(err, ErrOrganizationTaken):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordReused):
		return auditErrPasswordReuse
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrResetTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrResetTokenConsumed):
		return auditErrTokenConsumed
	case errors.Is(err, ErrAccessTokenStale):
		return auditErrTokenStale
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordMismatch):
		return auditErrPasswordMismatch
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
