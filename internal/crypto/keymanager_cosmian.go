package crypto

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/ovh/kmip-go"
	"github.com/ovh/kmip-go/payloads"
)

// KMIPKeyReference names one wrapping key known to the KMIP server, by the
// unique identifier the server tracks it under and the version number
// depot associates with it for rotation bookkeeping.
type KMIPKeyReference struct {
	ID      string
	Version int
}

// CosmianKMIPOptions configures NewCosmianKMIPManager.
type CosmianKMIPOptions struct {
	Endpoint       string
	Keys           []KMIPKeyReference
	TLSConfig      *tls.Config
	Timeout        time.Duration
	Provider       string
	DualReadWindow int // not read by the manager; every version listed in Keys unwraps
}

// CosmianKMIPManager is a KeyManager backed by a Cosmian KMS (or any
// KMIP-compliant server) reached over the ovh/kmip-go client, used to
// wrap and unwrap the per-manifest AES-128 key while it sits in the
// context cache (once a KeyManager is configured, the cached context
// holds only the wrapped form of spec §3's Manifest.key).
type CosmianKMIPManager struct {
	client   *kmip.Client
	provider string
	timeout  time.Duration

	mu       sync.RWMutex
	byID     map[string]KMIPKeyReference
	byVer    map[int]KMIPKeyReference
	activeID string
	activeV  int
}

// NewCosmianKMIPManager dials endpoint and returns a ready KeyManager.
// The last entry in opts.Keys is treated as the active wrapping key;
// older entries remain unwrap-only, supporting key rotation without a
// re-encryption pass over cached manifests.
func NewCosmianKMIPManager(opts CosmianKMIPOptions) (*CosmianKMIPManager, error) {
	if len(opts.Keys) == 0 {
		return nil, fmt.Errorf("kmip: at least one key reference is required")
	}

	client, err := kmip.NewClient(
		kmip.WithAddr(opts.Endpoint),
		kmip.WithTLSConfig(opts.TLSConfig),
		kmip.WithTimeout(opts.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kmip: dialing %s: %w", opts.Endpoint, err)
	}

	m := &CosmianKMIPManager{
		client:   client,
		provider: opts.Provider,
		timeout:  opts.Timeout,
		byID:     make(map[string]KMIPKeyReference),
		byVer:    make(map[int]KMIPKeyReference),
	}
	for _, k := range opts.Keys {
		m.byID[k.ID] = k
		m.byVer[k.Version] = k
	}
	active := opts.Keys[len(opts.Keys)-1]
	m.activeID = active.ID
	m.activeV = active.Version

	return m, nil
}

// Provider implements KeyManager.
func (m *CosmianKMIPManager) Provider() string { return m.provider }

// WrapKey implements KeyManager by calling KMIP Encrypt against the
// active wrapping key.
func (m *CosmianKMIPManager) WrapKey(ctx context.Context, plaintext []byte, metadata map[string]string) (*KeyEnvelope, error) {
	m.mu.RLock()
	activeID, activeV := m.activeID, m.activeV
	m.mu.RUnlock()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	resp, err := kmip.Send[*payloads.EncryptResponsePayload](ctx, m.client, &payloads.EncryptRequestPayload{
		UniqueIdentifier: activeID,
		Data:             plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("kmip encrypt: %w", err)
	}

	return &KeyEnvelope{
		KeyID:      activeID,
		KeyVersion: activeV,
		Provider:   m.provider,
		Ciphertext: resp.Data,
	}, nil
}

// UnwrapKey implements KeyManager by calling KMIP Decrypt, resolving the
// wrapping key by envelope.KeyID if set, falling back to KeyVersion.
func (m *CosmianKMIPManager) UnwrapKey(ctx context.Context, envelope *KeyEnvelope, metadata map[string]string) ([]byte, error) {
	keyID := envelope.KeyID
	if keyID == "" {
		m.mu.RLock()
		ref, ok := m.byVer[envelope.KeyVersion]
		m.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("kmip: no known key for version %d", envelope.KeyVersion)
		}
		keyID = ref.ID
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	resp, err := kmip.Send[*payloads.DecryptResponsePayload](ctx, m.client, &payloads.DecryptRequestPayload{
		UniqueIdentifier: keyID,
		Data:             envelope.Ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("kmip decrypt: %w", err)
	}
	return resp.Data, nil
}

// ActiveKeyVersion implements KeyManager.
func (m *CosmianKMIPManager) ActiveKeyVersion(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeV, nil
}

// HealthCheck implements KeyManager via a lightweight KMIP Get against
// the active key, verifying reachability without performing a real
// cryptographic operation.
func (m *CosmianKMIPManager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	activeID := m.activeID
	m.mu.RUnlock()

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	_, err := kmip.Send[*payloads.GetResponsePayload](ctx, m.client, &payloads.GetRequestPayload{
		UniqueIdentifier: activeID,
	})
	if err != nil {
		return fmt.Errorf("kmip health check: %w", err)
	}
	return nil
}

// Close implements KeyManager.
func (m *CosmianKMIPManager) Close(ctx context.Context) error {
	return m.client.Close()
}

func (m *CosmianKMIPManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}
