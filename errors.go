package goAdmin

import (
	"errors"
	"fmt"
	"net/http"
)

// Top-level categories. Engine errors are matched against these with errors.Is.
var (
	// ErrConflict reports a uniqueness or history violation.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized reports a failed authentication or an account that may not authenticate.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound reports an unknown admin user or organization.
	ErrNotFound = errors.New("not found")
	// ErrTokenInvalid reports a reset, activation or access token that cannot be honored.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrValidation reports a malformed request.
	ErrValidation = errors.New("validation failed")
	// ErrUnavailable reports a storage or signing backend failure.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

var (
	ErrIdentityConflict  = fmt.Errorf("%w: username or email already registered", ErrConflict)
	ErrPasswordReused    = fmt.Errorf("%w: password matches a recent password", ErrConflict)
	ErrOrganizationTaken = fmt.Errorf("%w: organization name already taken", ErrConflict)

	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrAccountDisabled    = fmt.Errorf("%w: account disabled", ErrUnauthorized)
	ErrAccountUnconfirmed = fmt.Errorf("%w: account not activated", ErrUnauthorized)

	ErrUserNotFound         = fmt.Errorf("%w: admin user", ErrNotFound)
	ErrOrganizationNotFound = fmt.Errorf("%w: organization", ErrNotFound)

	ErrResetTokenNotFound     = fmt.Errorf("%w: reset token not found", ErrTokenInvalid)
	ErrResetTokenExpired      = fmt.Errorf("%w: reset token expired", ErrTokenInvalid)
	ErrResetTokenConsumed     = fmt.Errorf("%w: reset token already used", ErrTokenInvalid)
	ErrActivationTokenInvalid = fmt.Errorf("%w: activation token", ErrTokenInvalid)
	ErrAccessTokenStale       = fmt.Errorf("%w: password changed after issuance", ErrTokenInvalid)

	ErrPasswordMismatch = fmt.Errorf("%w: passwords do not match", ErrValidation)
	ErrPasswordPolicy   = fmt.Errorf("%w: password policy violation", ErrValidation)
	ErrInvalidInput     = fmt.Errorf("%w: invalid input", ErrValidation)
	ErrUnsupportedGrant = fmt.Errorf("%w: unsupported grant type", ErrValidation)
)

// HTTPStatus maps an Engine error onto the status code a management API
// should answer with. nil maps to 200.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
