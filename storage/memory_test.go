package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/opd-ai/shroud/errs"
)

func TestMemoryStoreGetPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	key := Key(NamespaceContacts, "alice")
	if err := store.Put(ctx, key, []byte("record")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "record" {
		t.Errorf("Get = %q, want %q", value, "record")
	}

	// Mutating the returned slice must not affect the stored value.
	value[0] = 'X'
	again, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(again) != "record" {
		t.Error("stored value was mutated through a returned copy")
	}
}

func TestMemoryStoreMissingKey(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), Key(NamespaceGroups, "nope"))
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Get missing key = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Put(ctx, Key(NamespaceGroups, "g1"), []byte("a"))
	_ = store.Put(ctx, Key(NamespaceGroups, "g2"), []byte("b"))
	_ = store.Put(ctx, Key(NamespaceContacts, "alice"), []byte("c"))

	if err := store.DeletePrefix(ctx, Prefix(NamespaceGroups)); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}

	if _, err := store.Get(ctx, Key(NamespaceGroups, "g1")); !errors.Is(err, errs.ErrNotFound) {
		t.Error("group key survived DeletePrefix")
	}
	if _, err := store.Get(ctx, Key(NamespaceContacts, "alice")); err != nil {
		t.Error("contact key was removed by an unrelated DeletePrefix")
	}

	// Idempotent.
	if err := store.DeletePrefix(ctx, Prefix(NamespaceGroups)); err != nil {
		t.Fatalf("second DeletePrefix failed: %v", err)
	}
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Put(ctx, Key(NamespaceContacts, "alice"), []byte("a"))
	_ = store.Put(ctx, Key(NamespaceContacts, "bob"), []byte("b"))

	keys, err := store.List(ctx, Prefix(NamespaceContacts))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List returned %d keys, want 2", len(keys))
	}
}
