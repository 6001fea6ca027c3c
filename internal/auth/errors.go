package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrPortInUse means the callback listener could not bind. Another flow is probably running.
	ErrPortInUse = errors.New("callback port already in use, another authorization may be in progress")

	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrCredentialInvalid is logged when a stored credential fails the probe; it triggers re-authorization.
	ErrCredentialInvalid = errors.New("stored credential rejected by provider")

	ErrCallbackTimeout = errors.New("timed out waiting for authorization callback")
)

// AuthorizationDeniedError carries the provider's error string, e.g. access_denied.
type AuthorizationDeniedError struct {
	Reason string
}

func (e *AuthorizationDeniedError) Error() string {
	return fmt.Sprintf("authorization denied: %s", e.Reason)
}
