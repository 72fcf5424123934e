// Package identity implements the local identity lifecycle: key pair
// generation, password-protected private key storage through the
// KeyVault capability, and the derived anonymous identity hash.
package identity

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/limits"
	"github.com/opd-ai/shroud/storage"
)

// localIdentityKey is the single record id in the identity namespace.
// One identity exists per device.
const localIdentityKey = "local"

// Identity is the persisted local identity. The identity hash is the
// truncated SHA-256 of the public key encoding made at creation; key
// rotation distributes fresh contact and group keys but never rebinds
// this hash, so peers keep a stable anonymous reference.
type Identity struct {
	Nickname          string                `json:"nickname"`
	PublicKey         []byte                `json:"public_key"`
	WrappedPrivateKey *crypto.EncryptedBlob `json:"wrapped_private_key"`
	Hash              crypto.IdentityHash   `json:"identity_hash"`
	CreatedAt         time.Time             `json:"created_at"`
}

// Manager owns the local identity record.
type Manager struct {
	vault crypto.KeyVault
	store storage.Gateway
	mu    sync.Mutex
}

// NewManager creates an identity manager over the given vault and store.
func NewManager(vault crypto.KeyVault, store storage.Gateway) *Manager {
	return &Manager{vault: vault, store: store}
}

// Generate validates the nickname and password, creates a fresh key
// pair, wraps the private key in the vault, and persists the identity.
// Fails with ErrConflict if an identity already exists on this device.
func (m *Manager) Generate(ctx context.Context, nickname, password string) (*Identity, error) {
	if err := limits.ValidateNickname(nickname); err != nil {
		return nil, err
	}
	if err := limits.ValidatePassword(password); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.Get(ctx, storage.Key(storage.NamespaceIdentity, localIdentityKey)); err == nil {
		return nil, fmt.Errorf("%w: identity already exists", errs.ErrConflict)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	publicDER, err := crypto.MarshalPublicKey(keys.Public)
	if err != nil {
		return nil, err
	}
	privateDER, err := crypto.MarshalPrivateKey(keys.Private)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(privateDER)

	blob, err := m.vault.Wrap(privateDER, password)
	if err != nil {
		return nil, err
	}

	id := &Identity{
		Nickname:          nickname,
		PublicKey:         publicDER,
		WrappedPrivateKey: blob,
		Hash:              crypto.NewIdentityHash(publicDER),
		CreatedAt:         time.Now(),
	}

	if err := m.persist(ctx, id); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Generate",
		"nickname":      nickname,
		"identity_hash": id.Hash.String(),
	}).Info("Identity generated")

	return id, nil
}

// Load reads the persisted identity and unwraps the private key. Fails
// with ErrNotFound when no identity exists and ErrCrypto when the
// password is wrong or the blob is corrupted; the two crypto failures
// are indistinguishable.
func (m *Manager) Load(ctx context.Context, password string) (*Identity, *rsa.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.read(ctx)
	if err != nil {
		return nil, nil, err
	}

	privateDER, err := m.vault.Unwrap(id.WrappedPrivateKey, password)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.ZeroBytes(privateDER)

	priv, err := crypto.ParsePrivateKey(privateDER)
	if err != nil {
		// Parsing only fails on corruption that slipped past the AEAD;
		// report it the same way as an unwrap failure.
		return nil, nil, fmt.Errorf("%w: unwrap failed", errs.ErrCrypto)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Load",
		"identity_hash": id.Hash.String(),
	}).Debug("Identity loaded")

	return id, priv, nil
}

// Delete clears all persisted identity, contact, and group state.
// Idempotent: deleting an absent identity succeeds.
func (m *Manager) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	namespaces := []string{
		storage.NamespaceIdentity,
		storage.NamespaceContacts,
		storage.NamespaceContactRequests,
		storage.NamespaceGroups,
		storage.NamespaceGroupInvitations,
		storage.NamespaceGroupMessages,
	}
	for _, ns := range namespaces {
		if err := m.store.DeletePrefix(ctx, storage.Prefix(ns)); err != nil {
			return err
		}
	}

	logrus.WithField("function", "Delete").Info("Identity and all derived state deleted")
	return nil
}

// Exists reports whether a local identity has been generated.
func (m *Manager) Exists(ctx context.Context) (bool, error) {
	_, err := m.store.Get(ctx, storage.Key(storage.NamespaceIdentity, localIdentityKey))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (m *Manager) read(ctx context.Context) (*Identity, error) {
	raw, err := m.store.Get(ctx, storage.Key(storage.NamespaceIdentity, localIdentityKey))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: no identity on this device", errs.ErrNotFound)
		}
		return nil, err
	}

	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("%w: identity record decode: %v", errs.ErrStorage, err)
	}
	return &id, nil
}

func (m *Manager) persist(ctx context.Context, id *Identity) error {
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("%w: identity record encode: %v", errs.ErrStorage, err)
	}
	return m.store.Put(ctx, storage.Key(storage.NamespaceIdentity, localIdentityKey), raw)
}
