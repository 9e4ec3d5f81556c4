package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 99
identity:
  backend: memory
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsUnsupportedIdentityBackend(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
identity:
  backend: redis
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported identity.backend") {
		t.Fatalf("expected identity backend error, got %v", err)
	}
}

func TestLoadRejectsInvalidHTTPBaseURL(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
identity:
  backend: memory
http:
  base_url: example.com
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "http.base_url") {
		t.Fatalf("expected base_url error, got %v", err)
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
identity:
  backend: sqlite
  path: /tmp/identity.db
relay:
  key: secret-key
service:
  auto_create: false
  max_commands: 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Identity.Backend != "sqlite" || cfg.Identity.Path != "/tmp/identity.db" {
		t.Fatalf("unexpected identity config: %+v", cfg.Identity)
	}
	if cfg.Relay.Key != "secret-key" {
		t.Fatalf("unexpected relay key: %q", cfg.Relay.Key)
	}
	if cfg.Service.AutoCreate || cfg.Service.MaxCommands != 8 {
		t.Fatalf("unexpected service config: %+v", cfg.Service)
	}
	if cfg.HTTP.Addr == "" {
		t.Fatal("expected http defaults to apply")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfigVersion != CurrentConfigVersion {
		t.Fatalf("expected default config version, got %d", cfg.ConfigVersion)
	}
	if cfg.Identity.Backend != "file" {
		t.Fatalf("expected default identity backend, got %q", cfg.Identity.Backend)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config to exist: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
