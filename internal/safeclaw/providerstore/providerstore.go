// Package providerstore persists the owner's LLM configuration: which
// provider and model are active, and one API credential per provider.
//
// The snapshot lives in auth.json under the storage directory. When a master
// key is configured, credentials are sealed with AES-GCM before they touch
// disk; without one they are stored plaintext and the file's 0600 mode is
// the only protection. SecretGuard keeps the assistant itself away from the
// file either way.
package providerstore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/safeclaw/safeclaw/common/crypto"
	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
)

// ErrNoCredential is returned when the active provider has no stored key.
var ErrNoCredential = errors.New("no credential stored")

// encPrefix marks sealed credential values in the snapshot.
const encPrefix = "enc:"

type snapshot struct {
	ActiveProvider string            `json:"active_provider,omitempty"`
	ActiveModel    string            `json:"active_model,omitempty"`
	Providers      map[string]string `json:"providers"`
}

// Store holds provider credentials and the active selection.
// Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	path      string
	masterKey []byte // nil → plaintext at rest
	snap      snapshot
}

// Open loads the store at path. masterKey may be nil; when set it must be a
// 32-byte AES key (see crypto.ParseMasterKey).
func Open(path string, masterKey []byte) (*Store, error) {
	s := &Store{
		path:      path,
		masterKey: masterKey,
		snap:      snapshot{Providers: make(map[string]string)},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.snap); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if s.snap.Providers == nil {
		s.snap.Providers = make(map[string]string)
	}
	return s, nil
}

// SetCredential stores (or replaces) the credential for a provider. The
// first configured provider becomes active automatically.
func (s *Store) SetCredential(name, apiKey string) error {
	if !provider.Known(name) {
		return fmt.Errorf("%w: %s", provider.ErrUnknown, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.seal(apiKey)
	if err != nil {
		return err
	}
	s.snap.Providers[name] = sealed
	if s.snap.ActiveProvider == "" {
		s.snap.ActiveProvider = name
		s.snap.ActiveModel = provider.DefaultModel(name)
	}
	return s.saveLocked()
}

// RemoveCredential deletes a provider's credential. If it was the active
// provider, the selection moves to any remaining configured provider, or
// clears entirely.
func (s *Store) RemoveCredential(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snap.Providers[name]; !ok {
		return false, nil
	}
	delete(s.snap.Providers, name)

	if s.snap.ActiveProvider == name {
		s.snap.ActiveProvider = ""
		s.snap.ActiveModel = ""
		for _, remaining := range sortedKeys(s.snap.Providers) {
			s.snap.ActiveProvider = remaining
			s.snap.ActiveModel = provider.DefaultModel(remaining)
			break
		}
	}
	return true, s.saveLocked()
}

// SetActive selects the active provider and model. The provider must have a
// stored credential; an empty model selects the provider's default.
func (s *Store) SetActive(name, model string) error {
	if !provider.Known(name) {
		return fmt.Errorf("%w: %s", provider.ErrUnknown, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snap.Providers[name]; !ok {
		return fmt.Errorf("%w for %s; run /auth %s <key> first", ErrNoCredential, name, name)
	}
	if model == "" {
		model = provider.DefaultModel(name)
	}
	s.snap.ActiveProvider = name
	s.snap.ActiveModel = model
	return s.saveLocked()
}

// Active returns the current provider and model selection. Both empty when
// nothing is configured.
func (s *Store) Active() (name, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ActiveProvider, s.snap.ActiveModel
}

// Credential returns the decrypted API key for a provider.
func (s *Store) Credential(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, ok := s.snap.Providers[name]
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrNoCredential, name)
	}
	return s.unseal(sealed)
}

// Resolve constructs a Provider for the active selection.
func (s *Store) Resolve() (provider.Provider, string, error) {
	name, model := s.Active()
	if name == "" {
		return nil, "", fmt.Errorf("no provider configured; run /auth <provider> <key>")
	}
	key, err := s.Credential(name)
	if err != nil {
		return nil, "", err
	}
	p, err := provider.New(name, key)
	if err != nil {
		return nil, "", err
	}
	return p, model, nil
}

// Configured lists the providers that have a stored credential, sorted.
func (s *Store) Configured() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.snap.Providers)
}

// Encrypted reports whether credentials are sealed at rest.
func (s *Store) Encrypted() bool { return len(s.masterKey) > 0 }

func (s *Store) seal(apiKey string) (string, error) {
	if len(s.masterKey) == 0 {
		return apiKey, nil
	}
	ct, err := crypto.Encrypt(s.masterKey, []byte(apiKey))
	if err != nil {
		return "", fmt.Errorf("seal credential: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

func (s *Store) unseal(stored string) (string, error) {
	if len(stored) < len(encPrefix) || stored[:len(encPrefix)] != encPrefix {
		return stored, nil
	}
	if len(s.masterKey) == 0 {
		return "", errors.New("credential is encrypted but no master key is configured")
	}
	ct, err := base64.StdEncoding.DecodeString(stored[len(encPrefix):])
	if err != nil {
		return "", fmt.Errorf("decode credential: %w", err)
	}
	pt, err := crypto.Decrypt(s.masterKey, ct)
	if err != nil {
		return "", fmt.Errorf("unseal credential: %w", err)
	}
	return string(pt), nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
