package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cmd := newConfigCmd()
	cmd.SetArgs([]string{"init", "-o", path})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file: %v", err)
	}

	cmd = newConfigCmd()
	cmd.SetArgs([]string{"init", "-o", path})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error when config already exists")
	}
}

func TestConfigShowPrintsVersion(t *testing.T) {
	cfgPath := writeTestConfig(t)

	var out bytes.Buffer
	cmd := newConfigCmd()
	cmd.SetArgs([]string{"show", "-c", cfgPath})
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("config_version: 1")) {
		t.Fatalf("expected config_version in output, got %q", out.String())
	}
}
