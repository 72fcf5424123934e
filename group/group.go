// Package group implements group chats: membership with an owner role,
// the invitation handshake, and fan-out message encryption where every
// message is sealed separately for each active member.
package group

import (
	"time"

	"github.com/opd-ai/shroud/crypto"
)

// Role is a member's privilege level inside a group.
type Role uint8

const (
	// RoleMember is a regular participant.
	RoleMember Role = iota
	// RoleOwner administers the group. Exactly one owner exists.
	RoleOwner
)

// String returns a human-readable role name.
func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Member is a participant record inside a group.
type Member struct {
	Nickname     string              `json:"nickname"`
	IdentityHash crypto.IdentityHash `json:"identity_hash"`
	PublicKey    []byte              `json:"public_key"`
	Role         Role                `json:"role"`
	JoinedAt     time.Time           `json:"joined_at"`
	IsActive     bool                `json:"is_active"`
}

func (m *Member) clone() *Member {
	out := *m
	out.PublicKey = append([]byte(nil), m.PublicKey...)
	return &out
}

// Group is a persisted group chat record. Members are keyed by
// nickname, unique within the group.
type Group struct {
	ID                string              `json:"group_id"`
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	OwnerNickname     string              `json:"owner_nickname"`
	OwnerIdentityHash crypto.IdentityHash `json:"owner_identity_hash"`
	IsPrivate         bool                `json:"is_private"`
	CreatedAt         time.Time           `json:"created_at"`
	LastActivityAt    time.Time           `json:"last_activity_at"`
	KeyRotationCount  uint32              `json:"key_rotation_count"`
	Members           map[string]*Member  `json:"members"`
}

func (g *Group) clone() *Group {
	out := *g
	out.Members = make(map[string]*Member, len(g.Members))
	for k, v := range g.Members {
		out.Members[k] = v.clone()
	}
	return &out
}

// activeMembers returns the members that currently receive messages.
func (g *Group) activeMembers() []*Member {
	var out []*Member
	for _, m := range g.Members {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out
}
