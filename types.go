package goAdmin

import (
	"context"
	"time"
)

// AccountState is the activation lifecycle state of an admin user.
type AccountState uint8

const (
	// StateUnconfirmed admins exist but have not completed activation.
	StateUnconfirmed AccountState = iota
	// StateActive admins may authenticate.
	StateActive
	// StateDisabled admins are blocked from authenticating.
	StateDisabled
)

func (s AccountState) String() string {
	switch s {
	case StateUnconfirmed:
		return "unconfirmed"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

func (s AccountState) valid() bool {
	return s <= StateDisabled
}

// PasswordHistorySizeProperty is the organization property that sets how
// many retired passwords an admin may not reuse.
const PasswordHistorySizeProperty = "passwordHistorySize"

// AdminUser is the public view of an administrative account.
type AdminUser struct {
	ID              string
	Username        string
	Email           string
	Name            string
	State           AccountState
	PasswordChanged time.Time
	Properties      map[string]any
	Organizations   []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Activated reports whether the admin has completed activation.
func (u *AdminUser) Activated() bool { return u.State == StateActive }

// Disabled reports whether the admin is blocked.
func (u *AdminUser) Disabled() bool { return u.State == StateDisabled }

// CreateAdminUserRequest carries the fields accepted by Engine.CreateAdminUser.
//
// When Organization is set, an organization of that name is joined if it
// exists or created with the new admin as owner.
type CreateAdminUserRequest struct {
	Username     string
	Email        string
	Name         string
	Password     string
	Activated    bool
	Disabled     bool
	Organization string
	Properties   map[string]any
}

// AdminUserUpdate is a partial update. A nil Name leaves the name unchanged;
// a nil value in Properties deletes that key.
type AdminUserUpdate struct {
	Name       *string
	Properties map[string]any
}

// ViewOptions tunes GetAdminUserView for a single request.
type ViewOptions struct {
	// Shallow omits per-organization applications and member listings.
	Shallow bool
}

// AdminUserView is an admin together with the organizations it belongs to,
// keyed by organization name.
type AdminUserView struct {
	User          AdminUser
	Organizations map[string]OrganizationView
}

// OrganizationView is one organization inside an AdminUserView.
// Applications and Users are nil in shallow views.
type OrganizationView struct {
	ID           string
	Name         string
	Properties   map[string]any
	Applications map[string]string
	Users        map[string]AdminUserSummary
}

// AdminUserSummary is the abbreviated form used in organization member listings.
type AdminUserSummary struct {
	ID       string
	Username string
	Email    string
	Name     string
	State    AccountState
}

// Organization is the credential-relevant slice of an organization.
type Organization struct {
	ID           string
	Name         string
	Properties   map[string]any
	Applications map[string]string
	Members      []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GrantPassword is the only grant accepted by IssueToken.
const GrantPassword = "password"

// TokenRequest is a resource-owner password grant.
type TokenRequest struct {
	GrantType string
	Username  string
	Password  string
}

// AccessToken is the result of IssueToken and Me. PasswordChanged is read
// from the credential store on every call, never from a cache.
type AccessToken struct {
	Value           string
	ExpiresIn       time.Duration
	PasswordChanged time.Time
	User            AdminUser
}

// PasswordChangedMillis returns PasswordChanged in Unix milliseconds, the
// unit carried in the token's pwc claim.
func (t *AccessToken) PasswordChangedMillis() int64 {
	return t.PasswordChanged.UnixMilli()
}

// AccessResult is the outcome of ValidateAccess.
type AccessResult struct {
	UserID          string
	Username        string
	PasswordChanged time.Time
	ExpiresAt       time.Time
}

// ResetToken is returned by IssueResetToken. Value is shown to the admin
// once; only a digest of its secret half is stored.
type ResetToken struct {
	Value     string
	UserID    string
	ExpiresAt time.Time
}

// RedeemResetRequest carries the fields of a password reset form.
type RedeemResetRequest struct {
	Identifier string
	Token      string
	Password1  string
	Password2  string
}

// IntentKind distinguishes notification intents.
type IntentKind string

const (
	IntentActivation   IntentKind = "activation"
	IntentReactivation IntentKind = "reactivation"
)

// NotificationIntent is a request to tell an admin something by mail.
// Artifact is the activation link or token the message must carry.
type NotificationIntent struct {
	ID        string
	Kind      IntentKind
	UserID    string
	Recipient string
	Name      string
	Artifact  string
	CreatedAt time.Time
}

// MailTransport delivers notification intents. Implementations decide how;
// the Engine only decides that and what.
type MailTransport interface {
	Send(ctx context.Context, intent NotificationIntent) error
}

// MailTransportFunc adapts a function to MailTransport.
type MailTransportFunc func(ctx context.Context, intent NotificationIntent) error

func (f MailTransportFunc) Send(ctx context.Context, intent NotificationIntent) error {
	return f(ctx, intent)
}

type discardTransport struct{}

func (discardTransport) Send(context.Context, NotificationIntent) error { return nil }
