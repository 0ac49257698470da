package goAdmin

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goAdmin/internal/stores"
	"github.com/google/uuid"
)

// CreateOrganization creates an organization whose name is unique ignoring
// case. A non-empty ownerID becomes its first member.
func (e *Engine) CreateOrganization(ctx context.Context, name, ownerID string) (*Organization, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	owner := ""
	if ownerID != "" {
		id, err := e.resolveUserID(ctx, ownerID)
		if err != nil {
			return nil, publicError(err)
		}
		owner = id
	}

	now := e.now().UnixMilli()
	rec := &stores.OrganizationRecord{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.organizations.Create(ctx, rec, owner); err != nil {
		return nil, publicError(err)
	}

	e.metricInc(MetricOrganizationCreated)
	e.emitAudit(ctx, auditEventOrganizationCreated, true, owner, rec.ID, nil, func() map[string]string {
		return map[string]string{"name": name}
	})

	return e.loadOrganization(ctx, rec.ID)
}

// GetOrganization accepts an organization ID or name.
func (e *Engine) GetOrganization(ctx context.Context, idOrName string) (*Organization, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	orgID, err := e.resolveOrganizationID(ctx, idOrName)
	if err != nil {
		return nil, publicError(err)
	}
	return e.loadOrganization(ctx, orgID)
}

// UpdateOrganizationProperties merges patch into the organization's
// properties; nil values delete keys. passwordHistorySize must be a
// non-negative integer and takes effect on the next credential operation
// of every member.
func (e *Engine) UpdateOrganizationProperties(ctx context.Context, idOrName string, patch map[string]any) (*Organization, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	patch = cloneProperties(patch)
	if v, ok := patch[PasswordHistorySizeProperty]; ok && v != nil {
		n, valid := intProperty(v)
		if !valid || n > stores.MaxHistorySize {
			return nil, ErrInvalidInput
		}
		patch[PasswordHistorySizeProperty] = n
	}

	orgID, err := e.resolveOrganizationID(ctx, idOrName)
	if err != nil {
		return nil, publicError(err)
	}

	_, err = e.organizations.Update(ctx, orgID, func(rec *stores.OrganizationRecord) error {
		rec.Properties = mergeProperties(rec.Properties, patch)
		rec.UpdatedAt = e.now().UnixMilli()
		return nil
	})
	if err != nil {
		mapped := publicError(err)
		e.emitAudit(ctx, auditEventOrganizationUpdated, false, "", orgID, mapped, nil)
		return nil, mapped
	}

	e.emitAudit(ctx, auditEventOrganizationUpdated, true, "", orgID, nil, func() map[string]string {
		return map[string]string{"properties": strings.Join(sortedKeys(patch), ",")}
	})
	return e.loadOrganization(ctx, orgID)
}

// AddAdminToOrganization makes userID a member of the organization.
// Adding an existing member is a no-op.
func (e *Engine) AddAdminToOrganization(ctx context.Context, idOrName, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	orgID, err := e.resolveOrganizationID(ctx, idOrName)
	if err != nil {
		return publicError(err)
	}
	id, err := e.resolveUserID(ctx, userID)
	if err != nil {
		return publicError(err)
	}

	if err := e.organizations.AddMember(ctx, orgID, id); err != nil {
		return publicError(err)
	}

	e.emitAudit(ctx, auditEventOrganizationMemberAdded, true, id, orgID, nil, nil)
	return nil
}

// RemoveAdminFromOrganization ends userID's membership. The admin's
// history window is recomputed from the remaining organizations on the
// next credential operation. Removing a non-member is a no-op.
func (e *Engine) RemoveAdminFromOrganization(ctx context.Context, idOrName, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	orgID, err := e.resolveOrganizationID(ctx, idOrName)
	if err != nil {
		return publicError(err)
	}
	id, err := e.resolveUserID(ctx, userID)
	if err != nil {
		return publicError(err)
	}

	if err := e.organizations.RemoveMember(ctx, orgID, id); err != nil {
		return publicError(err)
	}

	e.emitAudit(ctx, auditEventOrganizationMemberRemoved, true, id, orgID, nil, nil)
	return nil
}

func (e *Engine) resolveOrganizationID(ctx context.Context, idOrName string) (string, error) {
	if _, err := uuid.Parse(idOrName); err == nil {
		_, err := e.organizations.Get(ctx, idOrName)
		if err == nil {
			return idOrName, nil
		}
		if !errors.Is(err, stores.ErrOrganizationNotFound) {
			return "", err
		}
	}
	return e.organizations.Lookup(ctx, idOrName)
}

func (e *Engine) loadOrganization(ctx context.Context, orgID string) (*Organization, error) {
	rec, err := e.organizations.Get(ctx, orgID)
	if err != nil {
		return nil, publicError(err)
	}
	members, err := e.organizations.Members(ctx, orgID)
	if err != nil {
		return nil, publicError(err)
	}

	return &Organization{
		ID:           rec.ID,
		Name:         rec.Name,
		Properties:   cloneProperties(rec.Properties),
		Applications: cloneApplications(rec.Applications),
		Members:      members,
		CreatedAt:    time.UnixMilli(rec.CreatedAt).UTC(),
		UpdatedAt:    time.UnixMilli(rec.UpdatedAt).UTC(),
	}, nil
}
