package goAdmin

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/MrEthical07/goAdmin/internal/stores"
	"github.com/google/uuid"
)

// CreateAdminUser registers a new admin. The username and email must be
// unique after normalization, across both namespaces.
//
// Steps run in order: validate, password policy, identity registration,
// initial credential, profile, organization join or create, activation
// intent. A failure after identity registration undoes the earlier writes.
// Delivering the activation intent is best-effort and never fails creation.
func (e *Engine) CreateAdminUser(ctx context.Context, req CreateAdminUserRequest) (*AdminUser, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" || email == "" || !strings.Contains(email, "@") {
		e.metricInc(MetricAdminCreateFailure)
		e.emitAudit(ctx, auditEventAdminCreateFailure, false, "", "", ErrInvalidInput, func() map[string]string {
			return map[string]string{"reason": "identity_invalid"}
		})
		return nil, ErrInvalidInput
	}
	if err := e.passwordHash.CheckPolicy(req.Password); err != nil {
		mapped := publicError(err)
		e.metricInc(MetricAdminCreateFailure)
		e.emitAudit(ctx, auditEventAdminCreateFailure, false, "", "", mapped, func() map[string]string {
			return map[string]string{"username": username, "reason": "password_policy"}
		})
		return nil, mapped
	}

	state := StateUnconfirmed
	if req.Activated {
		state = StateActive
	}
	if req.Disabled {
		state = StateDisabled
	}

	userID := uuid.NewString()
	now := e.now()

	if err := e.identities.Register(ctx, username, email, userID); err != nil {
		mapped := publicError(err)
		if errors.Is(mapped, ErrIdentityConflict) {
			e.metricInc(MetricAdminCreateConflict)
			e.emitAudit(ctx, auditEventAdminCreateDuplicate, false, "", "", mapped, func() map[string]string {
				return map[string]string{"username": username}
			})
		} else {
			e.metricInc(MetricAdminCreateFailure)
			e.emitAudit(ctx, auditEventAdminCreateFailure, false, "", "", mapped, func() map[string]string {
				return map[string]string{"username": username, "reason": "identity_register"}
			})
		}
		return nil, mapped
	}

	rollback := func(stage string, cause error) error {
		mapped := publicError(cause)
		if err := e.admins.Delete(ctx, userID); err != nil {
			log.Printf("goAdmin: rollback admin %s: %v", userID, err)
		}
		if err := e.credentials.Delete(ctx, userID); err != nil {
			log.Printf("goAdmin: rollback credential %s: %v", userID, err)
		}
		if err := e.identities.Release(ctx, username, email, userID); err != nil {
			log.Printf("goAdmin: rollback identity %s: %v", userID, err)
		}
		e.metricInc(MetricAdminCreateFailure)
		e.emitAudit(ctx, auditEventAdminCreateFailure, false, userID, "", mapped, func() map[string]string {
			return map[string]string{"username": username, "reason": stage}
		})
		return mapped
	}

	if _, err := e.credentials.Set(ctx, userID, req.Password, 0, now); err != nil {
		return nil, rollback("credential_set", err)
	}

	record := &stores.AdminRecord{
		ID:         userID,
		Username:   username,
		Email:      email,
		Name:       strings.TrimSpace(req.Name),
		State:      uint8(state),
		Properties: mergeProperties(nil, req.Properties),
		CreatedAt:  now.UnixMilli(),
		UpdatedAt:  now.UnixMilli(),
	}
	if err := e.admins.Create(ctx, record); err != nil {
		return nil, rollback("profile_create", err)
	}

	orgID := ""
	if name := strings.TrimSpace(req.Organization); name != "" {
		id, err := e.joinOrCreateOrganization(ctx, name, userID)
		if err != nil {
			return nil, rollback("organization_join", err)
		}
		orgID = id
	}

	e.metricInc(MetricAdminCreateSuccess)
	e.emitAudit(ctx, auditEventAdminCreateSuccess, true, userID, orgID, nil, func() map[string]string {
		return map[string]string{"username": username, "state": state.String()}
	})

	user, err := e.loadAdmin(ctx, userID)
	if err != nil {
		return nil, publicError(err)
	}

	if state == StateUnconfirmed && e.config.Activation.SendOnCreate {
		if err := e.sendActivation(ctx, user, IntentActivation); err != nil {
			log.Printf("goAdmin: activation intent for %s: %v", userID, err)
		}
	}

	return user, nil
}

func (e *Engine) joinOrCreateOrganization(ctx context.Context, name, userID string) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		orgID, err := e.organizations.Lookup(ctx, name)
		if err == nil {
			return orgID, e.organizations.AddMember(ctx, orgID, userID)
		}
		if !errors.Is(err, stores.ErrOrganizationNotFound) {
			return "", err
		}

		now := e.now().UnixMilli()
		rec := &stores.OrganizationRecord{
			ID:        uuid.NewString(),
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = e.organizations.Create(ctx, rec, userID)
		if err == nil {
			e.metricInc(MetricOrganizationCreated)
			e.emitAudit(ctx, auditEventOrganizationCreated, true, userID, rec.ID, nil, nil)
			return rec.ID, nil
		}
		// Lost a race for the name; join the winner instead.
		if !errors.Is(err, stores.ErrOrganizationExists) {
			return "", err
		}
	}
	return "", stores.ErrContention
}

// GetByUsernameOrEmail resolves identifier case-insensitively against both
// the username and the email index.
func (e *Engine) GetByUsernameOrEmail(ctx context.Context, identifier string) (*AdminUser, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	userID, err := e.identities.Resolve(ctx, identifier)
	if err != nil {
		return nil, publicError(err)
	}
	user, err := e.loadAdmin(ctx, userID)
	if err != nil {
		return nil, publicError(err)
	}
	return user, nil
}

// GetAdminUser accepts an admin ID, a username or an email.
func (e *Engine) GetAdminUser(ctx context.Context, idOrIdentifier string) (*AdminUser, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	userID, err := e.resolveUserID(ctx, idOrIdentifier)
	if err != nil {
		return nil, publicError(err)
	}
	user, err := e.loadAdmin(ctx, userID)
	if err != nil {
		return nil, publicError(err)
	}
	return user, nil
}

// GetAdminUserView returns the admin together with its organizations.
// Shallow views keep organization properties but omit applications and
// member listings.
func (e *Engine) GetAdminUserView(ctx context.Context, idOrIdentifier string, opts ViewOptions) (*AdminUserView, error) {
	user, err := e.GetAdminUser(ctx, idOrIdentifier)
	if err != nil {
		return nil, err
	}

	view := &AdminUserView{
		User:          *user,
		Organizations: make(map[string]OrganizationView, len(user.Organizations)),
	}
	for _, orgID := range user.Organizations {
		org, err := e.organizations.Get(ctx, orgID)
		if errors.Is(err, stores.ErrOrganizationNotFound) {
			continue
		}
		if err != nil {
			return nil, publicError(err)
		}

		ov := OrganizationView{
			ID:         org.ID,
			Name:       org.Name,
			Properties: cloneProperties(org.Properties),
		}
		if !opts.Shallow {
			ov.Applications = cloneApplications(org.Applications)
			users, err := e.memberSummaries(ctx, org.ID)
			if err != nil {
				return nil, publicError(err)
			}
			ov.Users = users
		}
		view.Organizations[org.Name] = ov
	}

	return view, nil
}

func (e *Engine) memberSummaries(ctx context.Context, orgID string) (map[string]AdminUserSummary, error) {
	members, err := e.organizations.Members(ctx, orgID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]AdminUserSummary, len(members))
	for _, memberID := range members {
		rec, err := e.admins.Get(ctx, memberID)
		if errors.Is(err, stores.ErrAdminNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[rec.Username] = AdminUserSummary{
			ID:       rec.ID,
			Username: rec.Username,
			Email:    rec.Email,
			Name:     rec.Name,
			State:    AccountState(rec.State),
		}
	}
	return out, nil
}

func cloneApplications(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// UpdateAdminUser applies a partial update. Properties are merged; a nil
// value removes the key. Username and email are not updatable here.
func (e *Engine) UpdateAdminUser(ctx context.Context, userID string, update AdminUserUpdate) (*AdminUser, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	id, err := e.resolveUserID(ctx, userID)
	if err != nil {
		return nil, publicError(err)
	}

	_, err = e.admins.Update(ctx, id, func(rec *stores.AdminRecord) error {
		if update.Name != nil {
			rec.Name = strings.TrimSpace(*update.Name)
		}
		rec.Properties = mergeProperties(rec.Properties, update.Properties)
		rec.UpdatedAt = e.now().UnixMilli()
		return nil
	})
	if err != nil {
		mapped := publicError(err)
		e.emitAudit(ctx, auditEventAdminUpdate, false, id, "", mapped, nil)
		return nil, mapped
	}

	e.emitAudit(ctx, auditEventAdminUpdate, true, id, "", nil, func() map[string]string {
		return map[string]string{"properties": strings.Join(sortedKeys(update.Properties), ",")}
	})

	user, err := e.loadAdmin(ctx, id)
	if err != nil {
		return nil, publicError(err)
	}
	return user, nil
}

// SetAdminUserState moves an admin between unconfirmed, active and disabled.
func (e *Engine) SetAdminUserState(ctx context.Context, userID string, state AccountState) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !state.valid() {
		return ErrInvalidInput
	}

	id, err := e.resolveUserID(ctx, userID)
	if err != nil {
		return publicError(err)
	}

	var previous AccountState
	_, err = e.admins.Update(ctx, id, func(rec *stores.AdminRecord) error {
		previous = AccountState(rec.State)
		rec.State = uint8(state)
		rec.UpdatedAt = e.now().UnixMilli()
		return nil
	})
	if err != nil {
		mapped := publicError(err)
		e.emitAudit(ctx, auditEventAdminStateChange, false, id, "", mapped, nil)
		return mapped
	}

	e.metricInc(MetricAdminStateChange)
	e.emitAudit(ctx, auditEventAdminStateChange, true, id, "", nil, func() map[string]string {
		return map[string]string{"from": previous.String(), "to": state.String()}
	})
	return nil
}
