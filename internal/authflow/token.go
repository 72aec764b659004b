package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TokenURL is the OAuth token endpoint.
const TokenURL = "https://api.x.com/2/oauth2/token"

// Token is the response from a successful exchange.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
}

// Exchange trades an authorization code for an access token.
func Exchange(ctx context.Context, httpClient *http.Client, clientID, redirectURI, code string, v Verifier) (*Token, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", clientID)
	form.Set("redirect_uri", redirectURI)
	form.Set("code", code)
	form.Set("code_verifier", v.Code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("authflow: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authflow: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("authflow: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authflow: token exchange failed with status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("authflow: decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("authflow: token response has no access_token")
	}
	return &tok, nil
}

// SaveToken writes the token to path in shell export syntax so the secrets
// loader and interactive shells can both source it. Mode 0600: it is a
// credential.
func SaveToken(path string, tok *Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("authflow: create secrets dir: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "export X_USER_ACCESS_TOKEN=%q\n", tok.AccessToken)
	if tok.RefreshToken != "" {
		fmt.Fprintf(&b, "export X_REFRESH_TOKEN=%q\n", tok.RefreshToken)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("authflow: write token file: %w", err)
	}
	return nil
}
