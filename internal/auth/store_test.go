package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

func testSecret(t *testing.T) string {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "syncrelay", AccountName: "tester"})
	if err != nil {
		t.Fatalf("generate totp: %v", err)
	}
	return key.Secret()
}

func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

func TestStoreSeedAndAuthenticate(t *testing.T) {
	dir := t.TempDir()
	secret := testSecret(t)
	store, err := NewStore(filepath.Join(dir, "users.json"), []SeedUser{{
		Username:     "alice",
		PasswordHash: testHash(t, "hunter2"),
		TOTPSecret:   secret,
	}})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := store.Authenticate("alice", "hunter2", code); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := store.Authenticate("alice", "wrong", code); err == nil {
		t.Fatal("expected bad password to fail")
	}
	if err := store.Authenticate("alice", "hunter2", "000000"); err == nil {
		t.Fatal("expected bad totp to fail")
	}
	if err := store.Authenticate("bob", "hunter2", code); err == nil {
		t.Fatal("expected unknown user to fail")
	}
}

func TestStoreAddUpdateDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	secret := testSecret(t)
	if err := store.AddUser(User{Username: "carol", PasswordHash: testHash(t, "pw"), TOTPSecret: secret}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := store.AddUser(User{Username: "carol", PasswordHash: "x", TOTPSecret: "y"}); err == nil {
		t.Fatal("expected duplicate user to fail")
	}
	if err := store.AddUser(User{Username: "Bad Name", PasswordHash: "x", TOTPSecret: "y"}); err == nil {
		t.Fatal("expected invalid username to fail")
	}
	if err := store.UpdatePassword("carol", testHash(t, "pw2")); err != nil {
		t.Fatalf("update password: %v", err)
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := store.Authenticate("carol", "pw2", code); err != nil {
		t.Fatalf("authenticate after update: %v", err)
	}
	if err := store.DeleteUser("carol"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if err := store.DeleteUser("carol"); err == nil {
		t.Fatal("expected delete of missing user to fail")
	}
	users := store.LoadUsers()
	if len(users) != 0 {
		t.Fatalf("expected no users, got %d", len(users))
	}
}

func TestStoreReloadsExternalEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if users := store.LoadUsers(); len(users) != 0 {
		t.Fatalf("expected empty store, got %d users", len(users))
	}
	payload := `[{"username":"dave","password_hash":"h","totp_secret":"s"}]`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write user file: %v", err)
	}
	// Force a distinguishable mtime for the refresh check.
	past := time.Now().Add(-2 * time.Second)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	users := store.LoadUsers()
	if len(users) != 1 || users[0].Username != "dave" {
		t.Fatalf("expected external edit to be picked up, got %+v", users)
	}
}

func TestStoreChangePassword(t *testing.T) {
	dir := t.TempDir()
	secret := testSecret(t)
	store, err := NewStore(filepath.Join(dir, "users.json"), []SeedUser{{
		Username:     "erin",
		PasswordHash: testHash(t, "old"),
		TOTPSecret:   secret,
	}})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := store.ChangePassword("erin", "wrong", code, "new"); err == nil {
		t.Fatal("expected wrong current password to fail")
	}
	if err := store.ChangePassword("erin", "old", code, "new"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	code, err = totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := store.Authenticate("erin", "new", code); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
}
