// Package authflow implements the OAuth 2.0 authorization-code flow with
// PKCE against the X API, producing a user-context access token that the
// metrics endpoints require.
package authflow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

const (
	// AuthorizeURL is the browser-facing authorization endpoint.
	AuthorizeURL = "https://x.com/i/oauth2/authorize"

	// DefaultScopes cover reading posts and metrics for the logged-in user.
	DefaultScopes = "tweet.read tweet.write users.read offline.access"
)

// Verifier is a PKCE code verifier with its derived S256 challenge.
type Verifier struct {
	Code      string
	Challenge string
}

// NewVerifier generates a fresh code verifier from 64 random bytes.
func NewVerifier() (Verifier, error) {
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return Verifier{}, fmt.Errorf("authflow: generate verifier: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(code))
	return Verifier{
		Code:      code,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

// NewState generates a random state parameter for CSRF protection.
func NewState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("authflow: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// AuthURL builds the authorization URL the user opens in a browser.
func AuthURL(clientID, redirectURI, scopes, state string, v Verifier) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", scopes)
	q.Set("state", state)
	q.Set("code_challenge", v.Challenge)
	q.Set("code_challenge_method", "S256")
	return AuthorizeURL + "?" + q.Encode()
}

// ParseAuthCode extracts the authorization code from pasted user input:
// either the bare code or the full redirect URL.
func ParseAuthCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("authflow: empty authorization code")
	}
	if strings.Contains(input, "://") || strings.Contains(input, "code=") {
		u, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("authflow: parse redirect url: %w", err)
		}
		code := u.Query().Get("code")
		if code == "" {
			return "", fmt.Errorf("authflow: redirect url has no code parameter")
		}
		return code, nil
	}
	return input, nil
}
