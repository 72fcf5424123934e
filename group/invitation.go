package group

import (
	"time"

	"github.com/opd-ai/shroud/crypto"
)

// DefaultInvitationTTL is how long an invitation stays accepting
// before it expires.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// InvitationStatus is the lifecycle state of a group invitation.
type InvitationStatus uint8

const (
	// InvitationPending awaits a decision.
	InvitationPending InvitationStatus = iota
	// InvitationAccepted is terminal; the invitee joined.
	InvitationAccepted
	// InvitationRejected is terminal.
	InvitationRejected
	// InvitationExpired is terminal; the TTL elapsed before a decision.
	InvitationExpired
)

// String returns a human-readable status name.
func (s InvitationStatus) String() string {
	switch s {
	case InvitationPending:
		return "pending"
	case InvitationAccepted:
		return "accepted"
	case InvitationRejected:
		return "rejected"
	case InvitationExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Invitation is a pending offer to join a group. The record id embeds
// the group id so invitations can be cleared with the group.
type Invitation struct {
	ID                  string              `json:"invitation_id"`
	GroupID             string              `json:"group_id"`
	GroupName           string              `json:"group_name"`
	InviterNickname     string              `json:"inviter_nickname"`
	InviteeNickname     string              `json:"invitee_nickname"`
	InviteeIdentityHash crypto.IdentityHash `json:"invitee_identity_hash"`
	InviteePublicKey    []byte              `json:"invitee_public_key"`
	CreatedAt           time.Time           `json:"created_at"`
	ExpiresAt           time.Time           `json:"expires_at"`
	Status              InvitationStatus    `json:"status"`
}

func (i *Invitation) clone() *Invitation {
	out := *i
	out.InviteePublicKey = append([]byte(nil), i.InviteePublicKey...)
	return &out
}

// expired reports whether the invitation's TTL elapsed at the given time.
func (i *Invitation) expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
