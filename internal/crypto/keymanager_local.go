package crypto

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

const localKeySize = 32

// LocalKeyManager is a KeyManager that wraps DEKs with an in-process
// secretbox master key instead of a remote KMS. It exists for local
// development and single-node deployments where standing up a KMIP
// server is unwarranted; depot treats it as interchangeable with
// CosmianKMIPManager behind the KeyManager interface.
type LocalKeyManager struct {
	provider string

	mu      sync.RWMutex
	masters map[int]*[localKeySize]byte
	active  int
}

// NewLocalKeyManager seeds a LocalKeyManager with one generated master
// key treated as version 1. Use LoadLocalKeyManager to restore a manager
// across process restarts from previously generated master keys.
func NewLocalKeyManager(provider string) (*LocalKeyManager, error) {
	var master [localKeySize]byte
	if _, err := rand.Read(master[:]); err != nil {
		return nil, fmt.Errorf("generating local master key: %w", err)
	}
	return &LocalKeyManager{
		provider: provider,
		masters:  map[int]*[localKeySize]byte{1: &master},
		active:   1,
	}, nil
}

// LoadLocalKeyManager restores a LocalKeyManager from a base64-encoded
// master key (config.KeyManagerConfig.LocalKey), so the wrapped DEKs
// survive a process restart instead of becoming unrecoverable under a
// freshly generated key.
func LoadLocalKeyManager(provider, encodedMaster string) (*LocalKeyManager, error) {
	raw, err := decodeBase64(encodedMaster)
	if err != nil {
		return nil, fmt.Errorf("decoding local master key: %w", err)
	}
	if len(raw) != localKeySize {
		return nil, fmt.Errorf("local master key must be %d bytes, got %d", localKeySize, len(raw))
	}

	var master [localKeySize]byte
	copy(master[:], raw)
	return &LocalKeyManager{
		provider: provider,
		masters:  map[int]*[localKeySize]byte{1: &master},
		active:   1,
	}, nil
}

// Provider implements KeyManager.
func (m *LocalKeyManager) Provider() string { return m.provider }

// WrapKey implements KeyManager by sealing plaintext with the active
// master key via secretbox (an authenticated, nonce-prefixed cipher).
func (m *LocalKeyManager) WrapKey(ctx context.Context, plaintext []byte, metadata map[string]string) (*KeyEnvelope, error) {
	m.mu.RLock()
	master, ok := m.masters[m.active]
	activeV := m.active
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("local keymanager: no master key for active version %d", activeV)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, master)
	return &KeyEnvelope{
		KeyVersion: activeV,
		Provider:   m.provider,
		Ciphertext: sealed,
	}, nil
}

// UnwrapKey implements KeyManager, opening the envelope with the master
// key for envelope.KeyVersion.
func (m *LocalKeyManager) UnwrapKey(ctx context.Context, envelope *KeyEnvelope, metadata map[string]string) ([]byte, error) {
	m.mu.RLock()
	master, ok := m.masters[envelope.KeyVersion]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("local keymanager: no master key for version %d", envelope.KeyVersion)
	}

	if len(envelope.Ciphertext) < 24 {
		return nil, fmt.Errorf("local keymanager: ciphertext too short to contain a nonce")
	}
	var nonce [24]byte
	copy(nonce[:], envelope.Ciphertext[:24])

	plaintext, ok := secretbox.Open(nil, envelope.Ciphertext[24:], &nonce, master)
	if !ok {
		return nil, fmt.Errorf("local keymanager: secretbox authentication failed")
	}
	return plaintext, nil
}

// ActiveKeyVersion implements KeyManager.
func (m *LocalKeyManager) ActiveKeyVersion(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active, nil
}

// HealthCheck implements KeyManager. A local manager is healthy as long
// as it holds an active master key.
func (m *LocalKeyManager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.masters[m.active]; !ok {
		return fmt.Errorf("local keymanager: missing active master key")
	}
	return nil
}

// Close implements KeyManager; there is nothing to release.
func (m *LocalKeyManager) Close(ctx context.Context) error { return nil }

// Rotate generates a new master key, makes it active, and retains the
// previous version for UnwrapKey calls against envelopes still encrypted
// under it.
func (m *LocalKeyManager) Rotate() (int, error) {
	var master [localKeySize]byte
	if _, err := rand.Read(master[:]); err != nil {
		return 0, fmt.Errorf("generating rotated master key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.active + 1
	m.masters[next] = &master
	m.active = next
	return next, nil
}
