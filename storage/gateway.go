// Package storage defines the persistence gateway the directories read
// and write through, plus in-memory and Redis-backed implementations.
//
// The core defines what must be durably stored and in what shape, not a
// database: values are self-describing JSON records keyed by namespace
// and identifier, and any Gateway implementation must round-trip them
// losslessly, raw byte fields included.
package storage

import "context"

// Namespaces for durable records. Keys are formed with Key.
const (
	NamespaceIdentity         = "identity"
	NamespaceContacts         = "contacts"
	NamespaceContactRequests  = "contact_requests"
	NamespaceGroups           = "groups"
	NamespaceGroupInvitations = "group_invitations"
	NamespaceGroupMessages    = "group_messages"
)

// Gateway is a durable key-value store. Get returns ErrNotFound (via
// errors.Is) for absent keys; any other failure wraps ErrStorage.
type Gateway interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// List returns the keys under a prefix. Used to hydrate directories
	// at startup and to clear namespaces on account deletion.
	List(ctx context.Context, prefix string) ([]string, error)

	// DeletePrefix removes every key under a prefix. Idempotent.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Key builds a storage key from a namespace and record identifier.
func Key(namespace, id string) string {
	return namespace + "/" + id
}

// Prefix builds the listing prefix for a namespace.
func Prefix(namespace string) string {
	return namespace + "/"
}
