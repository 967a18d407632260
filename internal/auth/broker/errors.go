package broker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAuthorizationRequired means the account has no usable refresh token
// and a human must re-connect the integration. Never retried.
var ErrAuthorizationRequired = errors.New("authorization required: account must be re-connected")

// ProviderError is a non-2xx response from the provider or its token
// endpoint.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Body)
}

// TransientNetworkError is a transport-level failure. Safe to retry.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// isPermanentRefreshError reports whether a token endpoint response body
// indicates a dead refresh token rather than a transient provider issue.
func isPermanentRefreshError(body string) bool {
	msg := strings.ToLower(body)
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
