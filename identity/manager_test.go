package identity

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"testing"

	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/storage"
)

func newTestManager() (*Manager, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewManager(crypto.NewSoftwareVault(), store), store
}

func TestGenerateLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	id, err := m.Generate(ctx, "alice", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(id.Hash) != crypto.HashSize {
		t.Errorf("identity hash length = %d, want %d", len(id.Hash), crypto.HashSize)
	}
	if id.Hash != crypto.NewIdentityHash(id.PublicKey) {
		t.Error("identity hash is not derived from the public key encoding")
	}

	loaded, priv, err := m.Load(ctx, "hunter2hunter2")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !bytes.Equal(loaded.PublicKey, id.PublicKey) {
		t.Error("loaded public key does not match generated key")
	}
	if loaded.Nickname != "alice" {
		t.Errorf("loaded nickname = %q, want %q", loaded.Nickname, "alice")
	}

	// The unwrapped private key must correspond to the public key.
	env, err := crypto.Seal([]byte("probe"), mustParsePublic(t, loaded.PublicKey))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	plain, err := crypto.Open(env, priv)
	if err != nil {
		t.Fatalf("Open with loaded private key failed: %v", err)
	}
	if string(plain) != "probe" {
		t.Error("round trip through loaded key pair failed")
	}
}

func TestLoadWrongPassword(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	if _, err := m.Generate(ctx, "alice", "hunter2hunter2"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	_, _, err := m.Load(ctx, "wrong-password")
	if !errors.Is(err, errs.ErrCrypto) {
		t.Errorf("Load with wrong password = %v, want ErrCrypto", err)
	}
}

func TestLoadWithoutIdentity(t *testing.T) {
	m, _ := newTestManager()
	_, _, err := m.Load(context.Background(), "hunter2hunter2")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Load without identity = %v, want ErrNotFound", err)
	}
}

func TestGenerateValidation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	testCases := []struct {
		name     string
		nickname string
		password string
	}{
		{"Blank nickname", "", "hunter2hunter2"},
		{"Bad nickname charset", "alice smith", "hunter2hunter2"},
		{"Short password", "alice", "short"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.Generate(ctx, tc.nickname, tc.password); !errors.Is(err, errs.ErrValidation) {
				t.Errorf("Generate(%q, %q) = %v, want ErrValidation", tc.nickname, tc.password, err)
			}
		})
	}
}

func TestGenerateDuplicateConflicts(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()

	if _, err := m.Generate(ctx, "alice", "hunter2hunter2"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := m.Generate(ctx, "alice2", "hunter2hunter2"); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("second Generate = %v, want ErrConflict", err)
	}
}

func TestDeleteClearsAllStateAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager()

	if _, err := m.Generate(ctx, "alice", "hunter2hunter2"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	// Plant records in derived namespaces to verify they are cleared.
	_ = store.Put(ctx, storage.Key(storage.NamespaceContacts, "bob"), []byte("x"))
	_ = store.Put(ctx, storage.Key(storage.NamespaceGroups, "g1"), []byte("y"))

	if err := m.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("store still holds %d keys after Delete", store.Len())
	}

	if err := m.Delete(ctx); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}

	exists, err := m.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("identity still exists after Delete")
	}
}

func mustParsePublic(t *testing.T, der []byte) *rsa.PublicKey {
	t.Helper()
	pub, err := crypto.ParsePublicKey(der)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	return pub
}
