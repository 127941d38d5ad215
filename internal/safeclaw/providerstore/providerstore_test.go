package providerstore_test

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
	"github.com/safeclaw/safeclaw/internal/safeclaw/providerstore"
)

func newTestStore(t *testing.T, masterKey []byte) (*providerstore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.json")
	s, err := providerstore.Open(path, masterKey)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := hex.DecodeString(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestFirstCredentialBecomesActive(t *testing.T) {
	s, _ := newTestStore(t, nil)

	if err := s.SetCredential("openai", "sk-test"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	name, model := s.Active()
	if name != "openai" {
		t.Errorf("active provider = %q, want openai", name)
	}
	if model != provider.DefaultModel("openai") {
		t.Errorf("active model = %q, want default", model)
	}

	key, err := s.Credential("openai")
	if err != nil || key != "sk-test" {
		t.Errorf("Credential = (%q, %v)", key, err)
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	s, _ := newTestStore(t, nil)
	if err := s.SetCredential("palm", "k"); err == nil {
		t.Error("SetCredential for unknown provider should fail")
	}
	if err := s.SetActive("palm", ""); err == nil {
		t.Error("SetActive for unknown provider should fail")
	}
}

func TestSetActiveRequiresCredential(t *testing.T) {
	s, _ := newTestStore(t, nil)
	if err := s.SetActive("anthropic", ""); err == nil {
		t.Error("SetActive without credential should fail")
	}

	s.SetCredential("anthropic", "sk-ant")
	if err := s.SetActive("anthropic", "claude-opus-4-20250514"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	name, model := s.Active()
	if name != "anthropic" || model != "claude-opus-4-20250514" {
		t.Errorf("Active = (%q, %q)", name, model)
	}
}

func TestRemoveRollsActiveOver(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.SetCredential("openai", "sk-1")
	s.SetCredential("anthropic", "sk-2")

	removed, err := s.RemoveCredential("openai")
	if err != nil || !removed {
		t.Fatalf("RemoveCredential = (%v, %v)", removed, err)
	}

	name, model := s.Active()
	if name != "anthropic" || model != provider.DefaultModel("anthropic") {
		t.Errorf("after removal Active = (%q, %q), want rollover to anthropic", name, model)
	}

	removed, err = s.RemoveCredential("anthropic")
	if err != nil || !removed {
		t.Fatalf("RemoveCredential = (%v, %v)", removed, err)
	}
	if name, _ := s.Active(); name != "" {
		t.Errorf("Active after removing everything = %q, want empty", name)
	}

	removed, _ = s.RemoveCredential("openai")
	if removed {
		t.Error("removing an absent credential should report false")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	s, path := newTestStore(t, nil)
	s.SetCredential("deepseek", "sk-ds")
	s.SetActive("deepseek", "deepseek-reasoner")

	reopened, err := providerstore.Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	name, model := reopened.Active()
	if name != "deepseek" || model != "deepseek-reasoner" {
		t.Errorf("Active after reopen = (%q, %q)", name, model)
	}
	key, err := reopened.Credential("deepseek")
	if err != nil || key != "sk-ds" {
		t.Errorf("Credential after reopen = (%q, %v)", key, err)
	}
}

func TestEncryptionAtRest(t *testing.T) {
	key := testKey(t)
	s, path := newTestStore(t, key)
	if !s.Encrypted() {
		t.Fatal("store with master key should report Encrypted")
	}

	if err := s.SetCredential("openai", "sk-very-secret"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	// The plaintext key must not appear in the file.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "sk-very-secret") {
		t.Error("credential stored in plaintext despite master key")
	}
	if !strings.Contains(string(raw), "enc:") {
		t.Error("sealed credential missing enc: prefix")
	}

	// Round trip through a fresh store with the same key.
	reopened, err := providerstore.Open(path, key)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Credential("openai")
	if err != nil || got != "sk-very-secret" {
		t.Errorf("Credential = (%q, %v)", got, err)
	}

	// Without the key, sealed credentials are unreadable.
	locked, err := providerstore.Open(path, nil)
	if err != nil {
		t.Fatalf("reopen without key: %v", err)
	}
	if _, err := locked.Credential("openai"); err == nil {
		t.Error("reading sealed credential without master key should fail")
	}
}

func TestResolve(t *testing.T) {
	s, _ := newTestStore(t, nil)

	if _, _, err := s.Resolve(); err == nil {
		t.Error("Resolve with nothing configured should fail")
	}

	s.SetCredential("openai", "sk-test")
	p, model, err := s.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name() != "openai" || model != provider.DefaultModel("openai") {
		t.Errorf("Resolve = (%s, %s)", p.Name(), model)
	}
}

func TestConfigured(t *testing.T) {
	s, _ := newTestStore(t, nil)
	s.SetCredential("openai", "1")
	s.SetCredential("anthropic", "2")

	got := s.Configured()
	if len(got) != 2 || got[0] != "anthropic" || got[1] != "openai" {
		t.Errorf("Configured = %v, want sorted [anthropic openai]", got)
	}
}
