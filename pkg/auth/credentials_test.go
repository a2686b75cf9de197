package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tgpipeline/pkg/config"
)

func warehouseConfig() config.WarehouseConfig {
	return config.WarehouseConfig{
		Driver:   "postgres",
		Host:     "db.internal",
		Port:     5432,
		User:     "postgres",
		Database: "medical_warehouse",
	}
}

func TestCredentialManager(t *testing.T) {
	store := newMockStore()
	manager := NewManagerWithStores(store)

	cred := &Credential{Profile: "db.internal:5432/medical_warehouse", User: "loader", Password: "s3cret-password"}
	if err := manager.Store(cred); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}
	if cred.LastModified.IsZero() {
		t.Error("LastModified should be stamped on store")
	}

	retrieved, err := manager.Retrieve(cred.Profile)
	if err != nil {
		t.Fatalf("Failed to retrieve credential: %v", err)
	}
	if retrieved.User != "loader" || retrieved.Password != "s3cret-password" {
		t.Errorf("Credential mismatch: got %+v", retrieved)
	}

	creds, err := manager.List()
	if err != nil {
		t.Fatalf("Failed to list credentials: %v", err)
	}
	if len(creds) != 1 {
		t.Errorf("Expected 1 credential, got %d", len(creds))
	}

	if err := manager.Delete(cred.Profile); err != nil {
		t.Errorf("Failed to delete credential: %v", err)
	}
	if _, err := manager.Retrieve(cred.Profile); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound, got %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("Expected empty store, got %d", store.Count())
	}
}

func TestStoreValidation(t *testing.T) {
	manager := NewManagerWithStores(newMockStore())

	cases := []*Credential{
		nil,
		{User: "u", Password: "p"},
		{Profile: "p", Password: "p"},
		{Profile: "p", User: "u"},
	}
	for i, c := range cases {
		if err := manager.Store(c); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestStoreFallsBackToNextStore(t *testing.T) {
	broken := newMockStore()
	broken.StoreError = errors.New("keychain locked")
	fallback := newMockStore()
	manager := NewManagerWithStores(broken, fallback)

	if err := manager.Store(&Credential{Profile: "p", User: "u", Password: "pw"}); err != nil {
		t.Fatalf("Expected fallback store to accept credential: %v", err)
	}
	if fallback.Count() != 1 {
		t.Error("Credential should be in the fallback store")
	}
}

func TestResolveFillsPassword(t *testing.T) {
	store := newMockStore()
	manager := NewManagerWithStores(store)
	cfg := warehouseConfig()
	_ = store.Store(&Credential{Profile: ProfileFor(cfg), User: "loader", Password: "pw"})

	if err := manager.Resolve(&cfg); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.User != "loader" || cfg.Password != "pw" {
		t.Errorf("Resolve did not apply credential: %+v", cfg)
	}
}

func TestResolveKeepsExplicitPassword(t *testing.T) {
	store := newMockStore()
	store.RetrieveError = errors.New("should not be called")
	manager := NewManagerWithStores(store)

	cfg := warehouseConfig()
	cfg.Password = "from-config"
	if err := manager.Resolve(&cfg); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cfg.Password != "from-config" {
		t.Errorf("Password was overwritten: %s", cfg.Password)
	}

	sqlite := config.WarehouseConfig{Driver: "sqlite", Path: "wh.db"}
	if err := manager.Resolve(&sqlite); err != nil {
		t.Errorf("Resolve should ignore sqlite: %v", err)
	}
}

func TestResolveMissingCredential(t *testing.T) {
	manager := NewManagerWithStores(newMockStore())
	cfg := warehouseConfig()
	if err := manager.Resolve(&cfg); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound, got %v", err)
	}
}

func TestProfileFor(t *testing.T) {
	if got := ProfileFor(warehouseConfig()); got != "db.internal:5432/medical_warehouse" {
		t.Errorf("unexpected profile %q", got)
	}
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatalf("Failed to create encrypted store: %v", err)
	}

	cred := &Credential{Profile: "db:5432/wh", User: "loader", Password: "plaintext-password"}
	if err := store.Store(cred); err != nil {
		t.Fatalf("Failed to store in encrypted file: %v", err)
	}
	if err := store.Store(&Credential{Profile: "other:5432/wh", User: "x", Password: "y"}); err != nil {
		t.Fatalf("Failed to store second credential: %v", err)
	}

	retrieved, err := store.Retrieve("db:5432/wh")
	if err != nil {
		t.Fatalf("Failed to retrieve from encrypted file: %v", err)
	}
	if retrieved.Password != cred.Password {
		t.Error("Password mismatch after encryption/decryption")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(content, []byte("plaintext-password")) {
		t.Error("File contains plaintext password")
	}

	// A second store with the same passphrase reads the same file.
	reopened, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Exists("other:5432/wh") {
		t.Error("Reopened store should see stored credential")
	}

	if err := store.Delete("db:5432/wh"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := store.Delete("other:5432/wh"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("File should be removed once empty")
	}
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	t.Setenv(PassphraseEnv, "first")
	store, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Store(&Credential{Profile: "p", User: "u", Password: "pw"}); err != nil {
		t.Fatal(err)
	}

	t.Setenv(PassphraseEnv, "second")
	other, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Retrieve("p"); err == nil {
		t.Error("Expected decryption failure with the wrong passphrase")
	}
}

func TestGeneratedPassphraseIsPersisted(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	first, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Store(&Credential{Profile: "p", User: "u", Password: "pw"}); err != nil {
		t.Fatal(err)
	}

	second, err := NewEncryptedFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Exists("p") {
		t.Error("Generated passphrase should be reused")
	}
	if info, err := os.Stat(filepath.Join(dir, ".passphrase")); err != nil || info.Mode().Perm() != 0600 {
		t.Errorf("passphrase file missing or too open: %v", err)
	}
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("POSTGRES_USER", "env_user")
	t.Setenv("POSTGRES_PASSWORD", "env_password")

	store := NewEnvironmentStore()
	cred, err := store.Retrieve("db:5432/wh")
	if err != nil {
		t.Fatalf("Failed to retrieve from environment: %v", err)
	}
	if cred.User != "env_user" || cred.Password != "env_password" {
		t.Errorf("unexpected credential %+v", cred)
	}
	if cred.Profile != "db:5432/wh" {
		t.Errorf("profile should echo the request, got %s", cred.Profile)
	}

	if err := store.Store(&Credential{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Error("Expected ErrStoreUnavailable for environment store")
	}

	t.Setenv("POSTGRES_PASSWORD", "")
	if store.Exists("db:5432/wh") {
		t.Error("Exists should be false without POSTGRES_PASSWORD")
	}
}

func TestSanitize(t *testing.T) {
	cred := &Credential{Profile: "p", User: "loader", Password: "a-very-long-password"}
	masked := Sanitize(cred)
	if masked.Password == cred.Password {
		t.Error("Password should be masked")
	}
	if masked.User != "loader" {
		t.Error("User should not be masked")
	}
	if Sanitize(&Credential{Password: "short"}).Password != "********" {
		t.Error("Short passwords should be fully masked")
	}
	if Sanitize(nil) != nil {
		t.Error("Sanitize(nil) should be nil")
	}
}

func TestWriteSetupGuide(t *testing.T) {
	var buf bytes.Buffer
	WriteSetupGuide(&buf, "db:5432/wh")
	if !strings.Contains(buf.String(), "Profile: db:5432/wh") {
		t.Error("guide should name the profile")
	}
	if !strings.Contains(buf.String(), PassphraseEnv) {
		t.Error("guide should mention the passphrase variable")
	}
}
