package secrets

import (
	"os"
	"path/filepath"
	"testing"
)

func clearTokenEnv(t *testing.T) {
	t.Helper()
	for _, key := range tokenKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestCandidatesOrder(t *testing.T) {
	t.Setenv("X_SECRETS_FILE", "")
	os.Unsetenv("X_SECRETS_FILE")
	root := t.TempDir()

	got := Candidates("my-agent", "", root)
	want := []string{
		filepath.Join(root, "my-agent"),
		filepath.Join(root, "config"),
	}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidates[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCandidatesExplicitFileWins(t *testing.T) {
	t.Setenv("X_SECRETS_FILE", "/elsewhere/env-file")
	got := Candidates("my-agent", "/explicit/file", t.TempDir())
	if got[0] != "/explicit/file" {
		t.Errorf("candidates[0] = %s, want the explicit file", got[0])
	}
	for _, p := range got {
		if p == "/elsewhere/env-file" {
			t.Error("env candidate present despite explicit file")
		}
	}
}

func TestCandidatesEnvFile(t *testing.T) {
	t.Setenv("X_SECRETS_FILE", "/elsewhere/env-file")
	got := Candidates("my-agent", "", t.TempDir())
	if got[0] != "/elsewhere/env-file" {
		t.Errorf("candidates[0] = %s, want X_SECRETS_FILE", got[0])
	}
}

func TestCandidatesRootAsFile(t *testing.T) {
	t.Setenv("X_SECRETS_FILE", "")
	os.Unsetenv("X_SECRETS_FILE")
	rootFile := filepath.Join(t.TempDir(), "secrets-env")
	if err := os.WriteFile(rootFile, []byte("export A=1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got := Candidates("", "", rootFile)
	if len(got) != 1 || got[0] != rootFile {
		t.Errorf("candidates = %v, want just the root file", got)
	}
}

func TestLoadExportSyntaxAndPrecedence(t *testing.T) {
	clearTokenEnv(t)
	t.Setenv("X_ACCESS_TOKEN", "from-env")

	file := filepath.Join(t.TempDir(), "env")
	content := "export X_ACCESS_TOKEN=\"from-file\"\nexport X_REFRESH_TOKEN=\"refresh\"\nexport EMPTY_VALUE=\"\"\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("X_REFRESH_TOKEN", "")
	os.Unsetenv("X_REFRESH_TOKEN")
	t.Setenv("EMPTY_VALUE", "")
	os.Unsetenv("EMPTY_VALUE")

	loaded, err := Load([]string{file, filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != file {
		t.Errorf("loaded = %v", loaded)
	}
	if got := os.Getenv("X_ACCESS_TOKEN"); got != "from-env" {
		t.Errorf("X_ACCESS_TOKEN = %q, existing env must win", got)
	}
	if got := os.Getenv("X_REFRESH_TOKEN"); got != "refresh" {
		t.Errorf("X_REFRESH_TOKEN = %q", got)
	}
	if _, ok := os.LookupEnv("EMPTY_VALUE"); ok {
		t.Error("empty value was set")
	}
}

func TestAccessTokenChain(t *testing.T) {
	clearTokenEnv(t)
	if _, err := AccessToken(); err == nil {
		t.Error("AccessToken succeeded with nothing configured")
	}

	t.Setenv("BEARER_TOKEN", "fallback")
	tok, err := AccessToken()
	if err != nil || tok != "fallback" {
		t.Errorf("AccessToken = %q, %v", tok, err)
	}

	t.Setenv("X_ACCESS_TOKEN", "primary")
	tok, err = AccessToken()
	if err != nil || tok != "primary" {
		t.Errorf("AccessToken = %q, %v, want the most specific key", tok, err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got := ExpandHome("~/secrets"); got != filepath.Join(home, "secrets") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome changed an absolute path: %q", got)
	}
}
