package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/shroud/contact"
	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/group"
	"github.com/opd-ai/shroud/storage"
)

// fakeFetcher serves canned keys per identity hash and can be told to
// fail for specific hashes.
type fakeFetcher struct {
	mu    sync.Mutex
	keys  map[crypto.IdentityHash][]byte
	fails map[crypto.IdentityHash]bool
	calls int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		keys:  make(map[crypto.IdentityHash][]byte),
		fails: make(map[crypto.IdentityHash]bool),
	}
}

func (f *fakeFetcher) FetchContactKey(_ context.Context, hash crypto.IdentityHash) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails[hash] {
		return nil, errors.New("fetch failed")
	}
	return f.keys[hash], nil
}

func (f *fakeFetcher) FetchMemberKey(ctx context.Context, _ string, hash crypto.IdentityHash) ([]byte, error) {
	return f.FetchContactKey(ctx, hash)
}

func testKey(t *testing.T) ([]byte, crypto.IdentityHash) {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	der, err := crypto.MarshalPublicKey(keys.Public)
	if err != nil {
		t.Fatalf("MarshalPublicKey failed: %v", err)
	}
	return der, crypto.NewIdentityHash(der)
}

func TestRotateOnceInstallsFreshKeys(t *testing.T) {
	ctx := context.Background()
	contacts := contact.NewDirectory(storage.NewMemoryStore(), 0)
	groups := group.NewDirectory(storage.NewMemoryStore(), 0)
	fetcher := newFakeFetcher()

	bobDER, bobHash := testKey(t)
	if _, err := contacts.Add(ctx, "bob", bobHash, bobDER); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Same key on the wire: no rotation recorded.
	fetcher.keys[bobHash] = bobDER
	s := NewScheduler(contacts, groups, fetcher, time.Hour)
	if n := s.RotateOnce(ctx); n != 0 {
		t.Errorf("RotateOnce with unchanged key rotated %d, want 0", n)
	}

	// Fresh key on the wire: one rotation, counter bumped.
	freshDER, _ := testKey(t)
	fetcher.keys[bobHash] = freshDER
	if n := s.RotateOnce(ctx); n != 1 {
		t.Errorf("RotateOnce rotated %d, want 1", n)
	}
	got, err := contacts.Get("bob")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.KeyRotationCount != 1 {
		t.Errorf("KeyRotationCount = %d, want 1", got.KeyRotationCount)
	}
	// The identity hash never changes across rotation.
	if got.IdentityHash != bobHash {
		t.Error("identity hash changed across rotation")
	}
}

func TestRotateOnceIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	contacts := contact.NewDirectory(storage.NewMemoryStore(), 0)
	groups := group.NewDirectory(storage.NewMemoryStore(), 0)
	fetcher := newFakeFetcher()

	bobDER, bobHash := testKey(t)
	carolDER, carolHash := testKey(t)
	if _, err := contacts.Add(ctx, "bob", bobHash, bobDER); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := contacts.Add(ctx, "carol", carolHash, carolDER); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	freshDER, _ := testKey(t)
	fetcher.fails[bobHash] = true
	fetcher.keys[carolHash] = freshDER

	s := NewScheduler(contacts, groups, fetcher, time.Hour)
	if n := s.RotateOnce(ctx); n != 1 {
		t.Errorf("RotateOnce rotated %d, want 1 despite one failure", n)
	}

	bob, _ := contacts.Get("bob")
	if bob.KeyRotationCount != 0 {
		t.Error("failed fetch still rotated bob's key")
	}
	carol, _ := contacts.Get("carol")
	if carol.KeyRotationCount != 1 {
		t.Error("carol's key was not rotated")
	}
}

func TestRotateGroupMembers(t *testing.T) {
	ctx := context.Background()
	contacts := contact.NewDirectory(storage.NewMemoryStore(), 0)
	groups := group.NewDirectory(storage.NewMemoryStore(), 0)
	fetcher := newFakeFetcher()

	aliceDER, aliceHash := testKey(t)
	g, err := groups.Create(ctx, "Secure Group", "", "alice", aliceHash, aliceDER, true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	freshDER, _ := testKey(t)
	fetcher.keys[aliceHash] = freshDER

	s := NewScheduler(contacts, groups, fetcher, time.Hour)
	if n := s.RotateOnce(ctx); n != 1 {
		t.Errorf("RotateOnce rotated %d, want 1", n)
	}
	got, _ := groups.Get(g.ID)
	if got.KeyRotationCount != 1 {
		t.Errorf("group KeyRotationCount = %d, want 1", got.KeyRotationCount)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	contacts := contact.NewDirectory(storage.NewMemoryStore(), 0)
	groups := group.NewDirectory(storage.NewMemoryStore(), 0)
	s := NewScheduler(contacts, groups, newFakeFetcher(), time.Hour)

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	s.Stop()
	s.Stop()

	// A stopped scheduler restarts cleanly.
	s.Start(ctx)
	s.Stop()
}
