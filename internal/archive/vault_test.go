package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/syncrelay/schema"
)

func TestVaultArchiveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	vault, err := NewVault(filepath.Join(dir, "keys.bundle"), filepath.Join(dir, "records"))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	record := schema.Record{
		Session:  "sess-1",
		Revision: 3,
		Fields:   map[schema.FieldKey]string{"deviceNumber": "12345"},
	}
	if err := vault.Archive("sess-1", record); err != nil {
		t.Fatalf("archive: %v", err)
	}
	names, err := vault.List("sess-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected 1 archived file, got %d", len(names))
	}
	got, err := vault.Read("sess-1", names[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Revision != 3 || got.Fields["deviceNumber"] != "12345" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestVaultFilesAreNotPlaintext(t *testing.T) {
	dir := t.TempDir()
	vault, err := NewVault(filepath.Join(dir, "keys.bundle"), filepath.Join(dir, "records"))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	record := schema.Record{
		Session: "sess-2",
		Fields:  map[schema.FieldKey]string{"email": "user@example.com"},
	}
	if err := vault.Archive("sess-2", record); err != nil {
		t.Fatalf("archive: %v", err)
	}
	names, err := vault.List("sess-2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "records", names[0]))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if strings.Contains(string(raw), "user@example.com") {
		t.Fatal("archived file leaks plaintext")
	}
}

func TestVaultListScopesToSession(t *testing.T) {
	dir := t.TempDir()
	vault, err := NewVault(filepath.Join(dir, "keys.bundle"), filepath.Join(dir, "records"))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	if err := vault.Archive("a", schema.Record{Session: "a"}); err != nil {
		t.Fatalf("archive a: %v", err)
	}
	if err := vault.Archive("b", schema.Record{Session: "b"}); err != nil {
		t.Fatalf("archive b: %v", err)
	}
	names, err := vault.List("a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 || !strings.HasPrefix(names[0], "a-") {
		t.Fatalf("unexpected names: %v", names)
	}
}
