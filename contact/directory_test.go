package contact

import (
	"context"
	"errors"
	"testing"

	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/storage"
)

// testKeyDER generates a key pair and returns the public key encoding.
func testKeyDER(t *testing.T) ([]byte, *crypto.KeyPair) {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	der, err := crypto.MarshalPublicKey(keys.Public)
	if err != nil {
		t.Fatalf("MarshalPublicKey failed: %v", err)
	}
	return der, keys
}

func TestAddGetRemove(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(storage.NewMemoryStore(), 0)
	der, _ := testKeyDER(t)
	hash := crypto.NewIdentityHash(der)

	added, err := d.Add(ctx, "bob", hash, der)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if added.Nickname != "bob" || added.IdentityHash != hash {
		t.Error("added contact does not carry the given identity")
	}

	got, err := d.Get("bob")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// Returned records are copies; mutating one must not leak back.
	got.PublicKey[0] ^= 0xff
	again, _ := d.Get("bob")
	if again.PublicKey[0] == got.PublicKey[0] {
		t.Error("Get returned a shared public key slice")
	}

	if err := d.Remove(ctx, "bob"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := d.Get("bob"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get after Remove = %v, want ErrNotFound", err)
	}
	if err := d.Remove(ctx, "bob"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}
}

func TestAddDuplicateConflicts(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(storage.NewMemoryStore(), 0)
	der, _ := testKeyDER(t)

	if _, err := d.Add(ctx, "bob", crypto.NewIdentityHash(der), der); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := d.Add(ctx, "bob", crypto.NewIdentityHash(der), der); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("duplicate Add = %v, want ErrConflict", err)
	}
}

func TestAddCapacity(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(storage.NewMemoryStore(), 1)
	der, _ := testKeyDER(t)

	if _, err := d.Add(ctx, "bob", crypto.NewIdentityHash(der), der); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := d.Add(ctx, "carol", crypto.NewIdentityHash(der), der); !errors.Is(err, errs.ErrCapacity) {
		t.Errorf("Add past capacity = %v, want ErrCapacity", err)
	}
}

func TestUpdatePublicKeyBumpsRotation(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(storage.NewMemoryStore(), 0)
	der, _ := testKeyDER(t)
	newDER, _ := testKeyDER(t)

	if _, err := d.Add(ctx, "bob", crypto.NewIdentityHash(der), der); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := d.UpdatePublicKey(ctx, "bob", newDER); err != nil {
		t.Fatalf("UpdatePublicKey failed: %v", err)
	}

	got, _ := d.Get("bob")
	if got.KeyRotationCount != 1 {
		t.Errorf("KeyRotationCount = %d, want 1", got.KeyRotationCount)
	}
	if got.LastKeyRotationAt.IsZero() {
		t.Error("LastKeyRotationAt was not stamped")
	}
	// The identity hash must survive rotation unchanged.
	if got.IdentityHash != crypto.NewIdentityHash(der) {
		t.Error("identity hash changed across key rotation")
	}
}

func TestRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(storage.NewMemoryStore(), 0)
	eveDER, eveKeys := testKeyDER(t)
	targetDER, _ := testKeyDER(t)
	target := crypto.NewIdentityHash(targetDER)

	req, err := d.SendRequest(ctx, target, "eve", eveDER)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if req.Status != RequestPending {
		t.Errorf("new request status = %s, want pending", req.Status)
	}
	if len(d.PendingRequests()) != 1 {
		t.Fatal("pending request is not listed")
	}

	eve, err := d.AcceptRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}
	if eve.Nickname != "eve" {
		t.Errorf("accepted contact nickname = %q, want eve", eve.Nickname)
	}
	if eve.IdentityHash != crypto.NewIdentityHash(eveDER) {
		t.Error("accepted contact hash is not derived from the request key")
	}

	// The status flip is terminal.
	stored, err := d.GetRequest(req.ID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if stored.Status != RequestAccepted {
		t.Errorf("request status after accept = %s, want accepted", stored.Status)
	}
	if len(d.PendingRequests()) != 0 {
		t.Error("accepted request still listed as pending")
	}
	if _, err := d.AcceptRequest(ctx, req.ID); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("second AcceptRequest = %v, want ErrConflict", err)
	}
	if err := d.RejectRequest(ctx, req.ID); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("RejectRequest after accept = %v, want ErrConflict", err)
	}

	// Messages to the new contact must open under Eve's private key.
	env, err := d.EncryptMessage([]byte("hello eve"), "eve")
	if err != nil {
		t.Fatalf("EncryptMessage failed: %v", err)
	}
	plain, err := crypto.Open(env, eveKeys.Private)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(plain) != "hello eve" {
		t.Error("envelope round trip through accepted contact failed")
	}
}

func TestRejectRequest(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(storage.NewMemoryStore(), 0)
	der, _ := testKeyDER(t)

	req, err := d.SendRequest(ctx, crypto.NewIdentityHash(der), "mallory", der)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if err := d.RejectRequest(ctx, req.ID); err != nil {
		t.Fatalf("RejectRequest failed: %v", err)
	}
	if _, err := d.Get("mallory"); !errors.Is(err, errs.ErrNotFound) {
		t.Error("rejected request still produced a contact")
	}
	if _, err := d.AcceptRequest(ctx, req.ID); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("AcceptRequest after reject = %v, want ErrConflict", err)
	}
}

func TestEncryptMessageUnknownContact(t *testing.T) {
	d := NewDirectory(storage.NewMemoryStore(), 0)
	if _, err := d.EncryptMessage([]byte("x"), "ghost"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("EncryptMessage for unknown contact = %v, want ErrNotFound", err)
	}
}

func TestHydrateRestoresState(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	d := NewDirectory(store, 0)
	der, _ := testKeyDER(t)

	if _, err := d.Add(ctx, "bob", crypto.NewIdentityHash(der), der); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	req, err := d.SendRequest(ctx, crypto.NewIdentityHash(der), "eve", der)
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}

	fresh := NewDirectory(store, 0)
	if err := fresh.Hydrate(ctx); err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	if _, err := fresh.Get("bob"); err != nil {
		t.Errorf("hydrated directory is missing contact: %v", err)
	}
	if _, err := fresh.GetRequest(req.ID); err != nil {
		t.Errorf("hydrated directory is missing request: %v", err)
	}
}

func TestSetOnline(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(storage.NewMemoryStore(), 0)
	der, _ := testKeyDER(t)

	if _, err := d.Add(ctx, "bob", crypto.NewIdentityHash(der), der); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := d.SetOnline(ctx, "bob", true); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	got, _ := d.Get("bob")
	if !got.IsOnline {
		t.Error("contact not marked online")
	}
	if err := d.SetOnline(ctx, "ghost", true); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("SetOnline unknown = %v, want ErrNotFound", err)
	}
}
