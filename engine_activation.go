package goAdmin

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/MrEthical07/goAdmin/internal"
	"github.com/MrEthical07/goAdmin/internal/stores"
	"github.com/google/uuid"
)

// TriggerReactivation sends the admin a fresh activation link. Every call
// mints a new token and emits exactly one intent; earlier links stay valid
// until they expire or are used.
func (e *Engine) TriggerReactivation(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	id, err := e.resolveUserID(ctx, userID)
	if err != nil {
		return publicError(err)
	}
	user, err := e.loadAdmin(ctx, id)
	if err != nil {
		return publicError(err)
	}

	return e.sendActivation(ctx, user, IntentReactivation)
}

// ConfirmActivation redeems an activation token and marks its admin active.
// A token redeems at most once.
func (e *Engine) ConfirmActivation(ctx context.Context, token string) (*AdminUser, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	userID, err := e.activations.Consume(ctx, token)
	if err != nil {
		mapped := publicError(err)
		e.emitAudit(ctx, auditEventActivationFailure, false, "", "", mapped, nil)
		return nil, mapped
	}

	_, err = e.admins.Update(ctx, userID, func(rec *stores.AdminRecord) error {
		switch AccountState(rec.State) {
		case StateDisabled:
			return ErrAccountDisabled
		case StateUnconfirmed:
			rec.State = uint8(StateActive)
			rec.UpdatedAt = e.now().UnixMilli()
		}
		return nil
	})
	if err != nil {
		mapped := err
		if !errors.Is(err, ErrAccountDisabled) {
			mapped = publicError(err)
		}
		e.emitAudit(ctx, auditEventActivationFailure, false, userID, "", mapped, nil)
		return nil, mapped
	}

	e.metricInc(MetricActivationConfirmed)
	e.emitAudit(ctx, auditEventActivationConfirmed, true, userID, "", nil, nil)

	user, err := e.loadAdmin(ctx, userID)
	if err != nil {
		return nil, publicError(err)
	}
	return user, nil
}

// sendActivation stores a new activation token for user and hands one
// intent carrying it to the mail transport.
func (e *Engine) sendActivation(ctx context.Context, user *AdminUser, kind IntentKind) error {
	token := uuid.NewString()
	if err := e.activations.Save(ctx, token, user.ID, e.config.Activation.TokenTTL); err != nil {
		return publicError(err)
	}

	now := e.now()
	intent := NotificationIntent{
		ID:        internal.NewSortableID(now),
		Kind:      kind,
		UserID:    user.ID,
		Recipient: user.Email,
		Name:      user.Name,
		Artifact:  e.activationArtifact(token),
		CreatedAt: now.UTC(),
	}

	if err := e.mail.Send(ctx, intent); err != nil {
		e.metricInc(MetricNotificationFailure)
		e.emitAudit(ctx, auditEventNotificationFailure, false, user.ID, "", ErrUnavailable, func() map[string]string {
			return map[string]string{"intent_id": intent.ID, "kind": string(kind)}
		})
		return fmt.Errorf("%w: mail transport: %v", ErrUnavailable, err)
	}

	event := auditEventActivationSent
	metric := MetricActivationSent
	if kind == IntentReactivation {
		event = auditEventReactivationSent
		metric = MetricReactivationSent
	}
	e.metricInc(metric)
	e.emitAudit(ctx, event, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"intent_id": intent.ID}
	})
	return nil
}

func (e *Engine) activationArtifact(token string) string {
	base := e.config.Activation.LinkBaseURL
	if base == "" {
		return token
	}

	u, err := url.Parse(base)
	if err != nil {
		return token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
