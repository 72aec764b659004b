package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

type validated struct {
	Name string `yaml:"name"`
}

var errNameRequired = errors.New("name is required")

func (v *validated) Validate() error {
	if v.Name == "" {
		return errNameRequired
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "name: ansuz\ncount: 3\n")
	var got sample
	if err := Load(path, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "ansuz" || got.Count != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("CONFIG_TEST_NAME", "from-env")
	path := writeFile(t, "name: ${CONFIG_TEST_NAME}\n")
	var got sample
	if err := Load(path, &got); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "from-env" {
		t.Errorf("Name = %q", got.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	var got sample
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml"), &got); err == nil {
		t.Error("Load accepted a missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeFile(t, "name: [unclosed\n")
	var got sample
	if err := Load(path, &got); err == nil {
		t.Error("Load accepted malformed YAML")
	}
}

func TestLoadRunsValidator(t *testing.T) {
	path := writeFile(t, "name: \"\"\n")
	var got validated
	err := Load(path, &got)
	if !errors.Is(err, errNameRequired) {
		t.Errorf("err = %v, want %v", err, errNameRequired)
	}
}

func TestLoadIfExists(t *testing.T) {
	path := writeFile(t, "name: present\n")
	got := sample{Name: "default"}
	loaded, err := LoadIfExists(path, &got)
	if err != nil {
		t.Fatalf("LoadIfExists: %v", err)
	}
	if !loaded || got.Name != "present" {
		t.Errorf("loaded=%v got=%+v", loaded, got)
	}
}

func TestLoadIfExistsMissingFile(t *testing.T) {
	got := sample{Name: "default"}
	loaded, err := LoadIfExists(filepath.Join(t.TempDir(), "absent.yaml"), &got)
	if err != nil {
		t.Fatalf("LoadIfExists: %v", err)
	}
	if loaded {
		t.Error("loaded reported true for missing file")
	}
	if got.Name != "default" {
		t.Errorf("target mutated: %+v", got)
	}
}
