// Package secrets loads API credentials from layered secret files without
// ever printing them. Files use shell export syntax (export KEY="value") and
// are parsed with godotenv; values already present in the environment win.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DefaultRoot is the default secrets root directory.
const DefaultRoot = "~/.secrets/x-agent-manager"

// tokenKeys is the access-token lookup chain, most specific first.
var tokenKeys = []string{
	"X_ACCESS_TOKEN",
	"X_USER_ACCESS_TOKEN",
	"X_BEARER_TOKEN",
	"TWITTER_ACCESS_TOKEN",
	"BEARER_TOKEN",
}

// Candidates returns the ordered, de-duplicated list of secret files to try:
// an explicit file, the X_SECRETS_FILE env path, the per-workspace file under
// the root, then the shared root config. The root itself may be a file.
func Candidates(workspaceName, explicitFile, root string) []string {
	if root == "" {
		root = DefaultRoot
	}
	root = ExpandHome(root)
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	if explicitFile != "" {
		add(ExpandHome(explicitFile))
	} else if env := os.Getenv("X_SECRETS_FILE"); env != "" {
		add(ExpandHome(env))
	}
	if workspaceName != "" {
		add(filepath.Join(root, workspaceName))
	}
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		add(root)
	} else {
		add(filepath.Join(root, "config"))
	}
	return out
}

// Load reads every existing candidate file and sets any variable not already
// present in the environment. Missing files are skipped silently. It returns
// the files that were actually read.
func Load(candidates []string) ([]string, error) {
	var loaded []string
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		vars, err := godotenv.Read(path)
		if err != nil {
			return loaded, fmt.Errorf("secrets: parse %s: %w", path, err)
		}
		for k, v := range vars {
			if v == "" {
				continue
			}
			if _, exists := os.LookupEnv(k); exists {
				continue
			}
			if err := os.Setenv(k, v); err != nil {
				return loaded, fmt.Errorf("secrets: set %s: %w", k, err)
			}
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

// AccessToken returns the first configured access token from the lookup
// chain, or an error naming the recommended variable.
func AccessToken() (string, error) {
	for _, key := range tokenKeys {
		if v := os.Getenv(key); v != "" {
			return v, nil
		}
	}
	return "", errors.New("secrets: no access token configured; set X_ACCESS_TOKEN " +
		"(OAuth2 user context with tweet.write) or run the login command")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
