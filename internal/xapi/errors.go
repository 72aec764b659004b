package xapi

import "fmt"

// AuthError reports a 401/403 from the API: missing scope, app-only token
// where user context is required, or an expired token.
type AuthError struct {
	Status int
	Title  string
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("xapi: HTTP %d %s: %s", e.Status, e.Title, e.Detail)
}

// RateLimitError reports a 429 from the API.
type RateLimitError struct {
	Status int
	Detail string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("xapi: rate limited (HTTP %d): %s", e.Status, e.Detail)
}

// TransportError covers connection failures and unexpected HTTP statuses.
type TransportError struct {
	Status int
	Detail string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xapi: transport error: %v", e.Err)
	}
	return fmt.Sprintf("xapi: HTTP %d: %s", e.Status, e.Detail)
}

func (e *TransportError) Unwrap() error { return e.Err }
