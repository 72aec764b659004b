package authflow

import (
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewVerifierDerivesS256Challenge(t *testing.T) {
	v, err := NewVerifier()
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if v.Code == "" || v.Challenge == "" {
		t.Fatal("empty verifier")
	}
	if strings.ContainsAny(v.Code, "+/=") || strings.ContainsAny(v.Challenge, "+/=") {
		t.Error("verifier not URL-safe unpadded base64")
	}
	sum := sha256.Sum256([]byte(v.Code))
	if want := base64.RawURLEncoding.EncodeToString(sum[:]); v.Challenge != want {
		t.Errorf("Challenge = %s, want %s", v.Challenge, want)
	}
}

func TestVerifiersAreUnique(t *testing.T) {
	a, _ := NewVerifier()
	b, _ := NewVerifier()
	if a.Code == b.Code {
		t.Error("two verifiers share the same code")
	}
}

func TestAuthURL(t *testing.T) {
	v := Verifier{Code: "code", Challenge: "challenge-value"}
	raw := AuthURL("client-1", "http://127.0.0.1:8787/callback", DefaultScopes, "state-1", v)

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Host != "x.com" || u.Path != "/i/oauth2/authorize" {
		t.Errorf("endpoint = %s://%s%s", u.Scheme, u.Host, u.Path)
	}
	q := u.Query()
	checks := map[string]string{
		"response_type":         "code",
		"client_id":             "client-1",
		"redirect_uri":          "http://127.0.0.1:8787/callback",
		"state":                 "state-1",
		"code_challenge":        "challenge-value",
		"code_challenge_method": "S256",
	}
	for key, want := range checks {
		if got := q.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestParseAuthCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"bare-code-123", "bare-code-123"},
		{"  bare-code-123 \n", "bare-code-123"},
		{"http://127.0.0.1:8787/callback?state=s&code=from-url", "from-url"},
	}
	for _, c := range cases {
		got, err := ParseAuthCode(c.in)
		if err != nil {
			t.Errorf("ParseAuthCode(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseAuthCode(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	for _, bad := range []string{"", "http://127.0.0.1:8787/callback?state=s"} {
		if _, err := ParseAuthCode(bad); err == nil {
			t.Errorf("ParseAuthCode(%q) succeeded", bad)
		}
	}
}

func TestSaveToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets", "my-agent")
	tok := &Token{AccessToken: "access-1", RefreshToken: "refresh-1"}
	if err := SaveToken(path, tok); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %o, want 600", info.Mode().Perm())
	}

	data, _ := os.ReadFile(path)
	want := "export X_USER_ACCESS_TOKEN=\"access-1\"\nexport X_REFRESH_TOKEN=\"refresh-1\"\n"
	if string(data) != want {
		t.Errorf("content = %q, want %q", data, want)
	}
}

func TestSaveTokenWithoutRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := SaveToken(path, &Token{AccessToken: "only"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "X_REFRESH_TOKEN") {
		t.Error("refresh line written without a refresh token")
	}
}
