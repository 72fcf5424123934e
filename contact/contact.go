// Package contact implements the contact directory: contact records,
// the contact-request handshake, and per-contact envelope encryption.
//
// Nicknames are the unique directory key. Requests move Pending to
// Accepted or Rejected exactly once; accepting a request is the only
// path that creates a contact from a request.
package contact

import (
	"time"

	"github.com/opd-ai/shroud/crypto"
)

// Contact is a peer in the local directory.
type Contact struct {
	Nickname          string              `json:"nickname"`
	IdentityHash      crypto.IdentityHash `json:"identity_hash"`
	PublicKey         []byte              `json:"public_key"`
	IsOnline          bool                `json:"is_online"`
	AddedAt           time.Time           `json:"added_at"`
	LastSeen          time.Time           `json:"last_seen"`
	KeyRotationCount  uint32              `json:"key_rotation_count"`
	LastKeyRotationAt time.Time           `json:"last_key_rotation_at"`
}

// clone returns an independent copy so callers can never mutate
// directory state through a returned record.
func (c *Contact) clone() *Contact {
	out := *c
	out.PublicKey = append([]byte(nil), c.PublicKey...)
	return &out
}
