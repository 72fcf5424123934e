package group

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/limits"
	"github.com/opd-ai/shroud/storage"
)

// Directory owns all groups, their invitations, and their message
// history. Records persist under keys prefixed with the group id so a
// group deletion clears everything it owns in one prefix sweep.
type Directory struct {
	store           storage.Gateway
	maxGroupMembers int

	mu          sync.RWMutex
	groups      map[string]*Group      // keyed by group id
	invitations map[string]*Invitation // keyed by invitation id
	messages    map[string][]*Message  // keyed by group id, append order
}

// NewDirectory creates an empty group directory. maxGroupMembers of 0
// selects the default capacity.
func NewDirectory(store storage.Gateway, maxGroupMembers int) *Directory {
	if maxGroupMembers <= 0 {
		maxGroupMembers = limits.DefaultMaxGroupMembers
	}
	return &Directory{
		store:           store,
		maxGroupMembers: maxGroupMembers,
		groups:          make(map[string]*Group),
		invitations:     make(map[string]*Invitation),
		messages:        make(map[string][]*Message),
	}
}

// Hydrate loads persisted groups, invitations, and messages into
// memory. Called once at startup.
func (d *Directory) Hydrate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	groupKeys, err := d.store.List(ctx, storage.Prefix(storage.NamespaceGroups))
	if err != nil {
		return err
	}
	for _, key := range groupKeys {
		raw, err := d.store.Get(ctx, key)
		if err != nil {
			return err
		}
		var g Group
		if err := json.Unmarshal(raw, &g); err != nil {
			return fmt.Errorf("%w: group record decode: %v", errs.ErrStorage, err)
		}
		d.groups[g.ID] = &g
	}

	invKeys, err := d.store.List(ctx, storage.Prefix(storage.NamespaceGroupInvitations))
	if err != nil {
		return err
	}
	for _, key := range invKeys {
		raw, err := d.store.Get(ctx, key)
		if err != nil {
			return err
		}
		var inv Invitation
		if err := json.Unmarshal(raw, &inv); err != nil {
			return fmt.Errorf("%w: invitation record decode: %v", errs.ErrStorage, err)
		}
		d.invitations[inv.ID] = &inv
	}

	msgKeys, err := d.store.List(ctx, storage.Prefix(storage.NamespaceGroupMessages))
	if err != nil {
		return err
	}
	for _, key := range msgKeys {
		raw, err := d.store.Get(ctx, key)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("%w: message record decode: %v", errs.ErrStorage, err)
		}
		d.messages[msg.GroupID] = append(d.messages[msg.GroupID], &msg)
	}
	for _, msgs := range d.messages {
		sortMessagesByTime(msgs)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Hydrate",
		"groups":      len(d.groups),
		"invitations": len(d.invitations),
	}).Debug("Group directory hydrated")

	return nil
}

// Create makes a new group with the creator as its sole member and
// owner.
func (d *Directory) Create(ctx context.Context, name, description, ownerNickname string, ownerHash crypto.IdentityHash, ownerPublicKey []byte, private bool) (*Group, error) {
	if err := limits.ValidateGroupName(name); err != nil {
		return nil, err
	}
	if err := limits.ValidateGroupDescription(description); err != nil {
		return nil, err
	}
	if err := limits.ValidateNickname(ownerNickname); err != nil {
		return nil, err
	}
	if _, err := crypto.ParsePublicKey(ownerPublicKey); err != nil {
		return nil, err
	}

	now := time.Now()
	g := &Group{
		ID:                uuid.NewString(),
		Name:              name,
		Description:       description,
		OwnerNickname:     ownerNickname,
		OwnerIdentityHash: ownerHash,
		IsPrivate:         private,
		CreatedAt:         now,
		LastActivityAt:    now,
		Members: map[string]*Member{
			ownerNickname: {
				Nickname:     ownerNickname,
				IdentityHash: ownerHash,
				PublicKey:    append([]byte(nil), ownerPublicKey...),
				Role:         RoleOwner,
				JoinedAt:     now,
				IsActive:     true,
			},
		},
	}

	d.mu.Lock()
	d.groups[g.ID] = g
	snapshot := g.clone()
	d.mu.Unlock()

	if err := d.persistGroup(ctx, snapshot); err != nil {
		d.mu.Lock()
		delete(d.groups, g.ID)
		d.mu.Unlock()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Create",
		"group_id": g.ID,
		"name":     name,
		"owner":    ownerNickname,
	}).Info("Group created")

	return snapshot, nil
}

// Get returns a copy of a group record.
func (d *Directory) Get(groupID string) (*Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	g, exists := d.groups[groupID]
	if !exists {
		return nil, fmt.Errorf("%w: group %q", errs.ErrNotFound, groupID)
	}
	return g.clone(), nil
}

// List returns copies of all groups.
func (d *Directory) List() []*Group {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Group, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, g.clone())
	}
	return out
}

// Invite records an invitation for a peer to join a group. Only the
// owner may invite. The invitation expires after DefaultInvitationTTL.
func (d *Directory) Invite(ctx context.Context, groupID, inviterNickname, inviteeNickname string, inviteeHash crypto.IdentityHash, inviteePublicKey []byte) (*Invitation, error) {
	if err := limits.ValidateNickname(inviteeNickname); err != nil {
		return nil, err
	}
	if _, err := crypto.ParsePublicKey(inviteePublicKey); err != nil {
		return nil, err
	}

	d.mu.Lock()
	g, exists := d.groups[groupID]
	if !exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: group %q", errs.ErrNotFound, groupID)
	}
	if g.OwnerNickname != inviterNickname {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: only the owner may invite", errs.ErrPermission)
	}
	if _, member := g.Members[inviteeNickname]; member {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is already a member", errs.ErrConflict, inviteeNickname)
	}
	if len(g.Members) >= d.maxGroupMembers {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: group is full (%d)", errs.ErrCapacity, d.maxGroupMembers)
	}
	groupName := g.Name

	now := time.Now()
	inv := &Invitation{
		ID:                  invitationKey(groupID, uuid.NewString()),
		GroupID:             groupID,
		GroupName:           groupName,
		InviterNickname:     inviterNickname,
		InviteeNickname:     inviteeNickname,
		InviteeIdentityHash: inviteeHash,
		InviteePublicKey:    append([]byte(nil), inviteePublicKey...),
		CreatedAt:           now,
		ExpiresAt:           now.Add(DefaultInvitationTTL),
		Status:              InvitationPending,
	}
	d.invitations[inv.ID] = inv
	snapshot := inv.clone()
	d.mu.Unlock()

	if err := d.persistInvitation(ctx, snapshot); err != nil {
		d.mu.Lock()
		delete(d.invitations, inv.ID)
		d.mu.Unlock()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Invite",
		"group_id":      groupID,
		"invitation_id": inv.ID,
		"invitee":       inviteeNickname,
	}).Info("Group invitation recorded")

	return snapshot, nil
}

// AcceptInvitation flips a pending invitation to Accepted and adds the
// invitee as a member, committing both or neither. Expired invitations
// fail and are marked Expired.
func (d *Directory) AcceptInvitation(ctx context.Context, invitationID string) (*Group, error) {
	d.mu.Lock()
	inv, exists := d.invitations[invitationID]
	if !exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: invitation %q", errs.ErrNotFound, invitationID)
	}
	if inv.Status != InvitationPending {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: invitation %q already %s", errs.ErrConflict, invitationID, inv.Status)
	}
	if inv.expired(time.Now()) {
		inv.Status = InvitationExpired
		snapshot := inv.clone()
		d.mu.Unlock()
		_ = d.persistInvitation(ctx, snapshot)
		return nil, fmt.Errorf("%w: invitation %q expired", errs.ErrConflict, invitationID)
	}

	g, exists := d.groups[inv.GroupID]
	if !exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: group %q", errs.ErrNotFound, inv.GroupID)
	}
	if _, member := g.Members[inv.InviteeNickname]; member {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is already a member", errs.ErrConflict, inv.InviteeNickname)
	}
	if len(g.Members) >= d.maxGroupMembers {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: group is full (%d)", errs.ErrCapacity, d.maxGroupMembers)
	}

	g.Members[inv.InviteeNickname] = &Member{
		Nickname:     inv.InviteeNickname,
		IdentityHash: inv.InviteeIdentityHash,
		PublicKey:    append([]byte(nil), inv.InviteePublicKey...),
		Role:         RoleMember,
		JoinedAt:     time.Now(),
		IsActive:     true,
	}
	g.LastActivityAt = time.Now()
	inv.Status = InvitationAccepted
	groupSnapshot := g.clone()
	invSnapshot := inv.clone()
	d.mu.Unlock()

	if err := d.persistGroup(ctx, groupSnapshot); err != nil {
		d.revertAccept(invitationID, inv.GroupID, inv.InviteeNickname)
		return nil, err
	}
	if err := d.persistInvitation(ctx, invSnapshot); err != nil {
		d.revertAccept(invitationID, inv.GroupID, inv.InviteeNickname)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "AcceptInvitation",
		"group_id":      inv.GroupID,
		"invitation_id": invitationID,
		"member":        inv.InviteeNickname,
	}).Info("Group invitation accepted")

	return groupSnapshot, nil
}

func (d *Directory) revertAccept(invitationID, groupID, nickname string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if inv, exists := d.invitations[invitationID]; exists {
		inv.Status = InvitationPending
	}
	if g, exists := d.groups[groupID]; exists {
		delete(g.Members, nickname)
	}
}

// RejectInvitation flips a pending invitation to Rejected.
func (d *Directory) RejectInvitation(ctx context.Context, invitationID string) error {
	d.mu.Lock()
	inv, exists := d.invitations[invitationID]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: invitation %q", errs.ErrNotFound, invitationID)
	}
	if inv.Status != InvitationPending {
		d.mu.Unlock()
		return fmt.Errorf("%w: invitation %q already %s", errs.ErrConflict, invitationID, inv.Status)
	}
	inv.Status = InvitationRejected
	snapshot := inv.clone()
	d.mu.Unlock()

	if err := d.persistInvitation(ctx, snapshot); err != nil {
		d.mu.Lock()
		if inv, exists := d.invitations[invitationID]; exists {
			inv.Status = InvitationPending
		}
		d.mu.Unlock()
		return err
	}
	return nil
}

// PendingInvitations returns copies of all pending, unexpired
// invitations.
func (d *Directory) PendingInvitations() []*Invitation {
	now := time.Now()
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*Invitation
	for _, inv := range d.invitations {
		if inv.Status == InvitationPending && !inv.expired(now) {
			out = append(out, inv.clone())
		}
	}
	return out
}

// ExpireInvitations marks pending invitations whose TTL elapsed as
// Expired. Returns how many were expired.
func (d *Directory) ExpireInvitations(ctx context.Context) (int, error) {
	now := time.Now()

	d.mu.Lock()
	var expired []*Invitation
	for _, inv := range d.invitations {
		if inv.Status == InvitationPending && inv.expired(now) {
			inv.Status = InvitationExpired
			expired = append(expired, inv.clone())
		}
	}
	d.mu.Unlock()

	for _, inv := range expired {
		if err := d.persistInvitation(ctx, inv); err != nil {
			return len(expired), err
		}
	}
	if len(expired) > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "ExpireInvitations",
			"count":    len(expired),
		}).Debug("Expired stale group invitations")
	}
	return len(expired), nil
}

// RemoveMember removes a member from a group. Only the owner may
// remove, and the owner cannot be removed.
func (d *Directory) RemoveMember(ctx context.Context, groupID, actorNickname, memberNickname string) error {
	d.mu.Lock()
	g, exists := d.groups[groupID]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: group %q", errs.ErrNotFound, groupID)
	}
	if g.OwnerNickname != actorNickname {
		d.mu.Unlock()
		return fmt.Errorf("%w: only the owner may remove members", errs.ErrPermission)
	}
	if memberNickname == g.OwnerNickname {
		d.mu.Unlock()
		return fmt.Errorf("%w: the owner cannot be removed", errs.ErrPermission)
	}
	prev, exists := g.Members[memberNickname]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: member %q", errs.ErrNotFound, memberNickname)
	}
	delete(g.Members, memberNickname)
	g.LastActivityAt = time.Now()
	snapshot := g.clone()
	d.mu.Unlock()

	if err := d.persistGroup(ctx, snapshot); err != nil {
		d.mu.Lock()
		if g, exists := d.groups[groupID]; exists {
			g.Members[memberNickname] = prev
		}
		d.mu.Unlock()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "RemoveMember",
		"group_id": groupID,
		"member":   memberNickname,
	}).Info("Group member removed")

	return nil
}

// Leave removes the given member at their own request. The owner
// cannot leave; they must delete the group instead.
func (d *Directory) Leave(ctx context.Context, groupID, nickname string) error {
	d.mu.Lock()
	g, exists := d.groups[groupID]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: group %q", errs.ErrNotFound, groupID)
	}
	if nickname == g.OwnerNickname {
		d.mu.Unlock()
		return fmt.Errorf("%w: the owner cannot leave; delete the group", errs.ErrPermission)
	}
	prev, exists := g.Members[nickname]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: member %q", errs.ErrNotFound, nickname)
	}
	delete(g.Members, nickname)
	g.LastActivityAt = time.Now()
	snapshot := g.clone()
	d.mu.Unlock()

	if err := d.persistGroup(ctx, snapshot); err != nil {
		d.mu.Lock()
		if g, exists := d.groups[groupID]; exists {
			g.Members[nickname] = prev
		}
		d.mu.Unlock()
		return err
	}
	return nil
}

// Delete removes a group and everything it owns: its record, its
// invitations, and its message history. Only the owner may delete.
func (d *Directory) Delete(ctx context.Context, groupID, actorNickname string) error {
	d.mu.Lock()
	g, exists := d.groups[groupID]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: group %q", errs.ErrNotFound, groupID)
	}
	if g.OwnerNickname != actorNickname {
		d.mu.Unlock()
		return fmt.Errorf("%w: only the owner may delete the group", errs.ErrPermission)
	}
	delete(d.groups, groupID)
	delete(d.messages, groupID)
	for id, inv := range d.invitations {
		if inv.GroupID == groupID {
			delete(d.invitations, id)
		}
	}
	d.mu.Unlock()

	if err := d.store.Delete(ctx, storage.Key(storage.NamespaceGroups, groupID)); err != nil {
		return err
	}
	if err := d.store.DeletePrefix(ctx, storage.Key(storage.NamespaceGroupInvitations, groupID)+"/"); err != nil {
		return err
	}
	if err := d.store.DeletePrefix(ctx, storage.Key(storage.NamespaceGroupMessages, groupID)+"/"); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Delete",
		"group_id": groupID,
	}).Info("Group deleted")

	return nil
}

// SendMessage seals the plaintext once per active member and appends
// the resulting message to the group history. The plaintext never
// reaches the store.
func (d *Directory) SendMessage(ctx context.Context, groupID, senderNickname string, msgType MessageType, plaintext []byte) (*Message, error) {
	if err := limits.ValidateMessageSize(plaintext); err != nil {
		return nil, err
	}

	d.mu.Lock()
	g, exists := d.groups[groupID]
	if !exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: group %q", errs.ErrNotFound, groupID)
	}
	sender, member := g.Members[senderNickname]
	if !member {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is not a member of group %q", errs.ErrPermission, senderNickname, groupID)
	}
	if !sender.IsActive {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %q is not an active member of group %q", errs.ErrPermission, senderNickname, groupID)
	}
	recipients := make([]*Member, 0, len(g.Members))
	for _, m := range g.activeMembers() {
		recipients = append(recipients, m.clone())
	}
	d.mu.Unlock()

	msg := &Message{
		ID:                 messageKey(groupID, uuid.NewString()),
		GroupID:            groupID,
		SenderNickname:     senderNickname,
		Type:               msgType,
		Timestamp:          time.Now(),
		EncryptedForMember: make(map[string]*crypto.EncryptedEnvelope, len(recipients)),
	}
	for _, m := range recipients {
		pub, err := crypto.ParsePublicKey(m.PublicKey)
		if err != nil {
			return nil, err
		}
		env, err := crypto.Seal(plaintext, pub)
		if err != nil {
			return nil, err
		}
		msg.EncryptedForMember[m.Nickname] = env
	}

	if err := d.persistMessage(ctx, msg); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.messages[groupID] = append(d.messages[groupID], msg)
	if g, exists := d.groups[groupID]; exists {
		g.LastActivityAt = msg.Timestamp
	}
	snapshot := msg.clone()
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "SendMessage",
		"group_id":   groupID,
		"sender":     senderNickname,
		"recipients": len(msg.EncryptedForMember),
	}).Debug("Group message sealed")

	return snapshot, nil
}

// Messages returns copies of a group's message history in send order.
func (d *Directory) Messages(groupID string) ([]*Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, exists := d.groups[groupID]; !exists {
		return nil, fmt.Errorf("%w: group %q", errs.ErrNotFound, groupID)
	}
	msgs := d.messages[groupID]
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.clone())
	}
	return out, nil
}

// UpdateMemberKey installs a rotated public key for a member across a
// group, bumping the group rotation counter.
func (d *Directory) UpdateMemberKey(ctx context.Context, groupID, nickname string, publicKey []byte) error {
	if _, err := crypto.ParsePublicKey(publicKey); err != nil {
		return err
	}

	d.mu.Lock()
	g, exists := d.groups[groupID]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: group %q", errs.ErrNotFound, groupID)
	}
	m, exists := g.Members[nickname]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: member %q", errs.ErrNotFound, nickname)
	}
	m.PublicKey = append([]byte(nil), publicKey...)
	g.KeyRotationCount++
	snapshot := g.clone()
	d.mu.Unlock()

	return d.persistGroup(ctx, snapshot)
}

func (d *Directory) persistGroup(ctx context.Context, g *Group) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("%w: group record encode: %v", errs.ErrStorage, err)
	}
	return d.store.Put(ctx, storage.Key(storage.NamespaceGroups, g.ID), raw)
}

func (d *Directory) persistInvitation(ctx context.Context, inv *Invitation) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("%w: invitation record encode: %v", errs.ErrStorage, err)
	}
	return d.store.Put(ctx, storage.Key(storage.NamespaceGroupInvitations, inv.ID), raw)
}

func (d *Directory) persistMessage(ctx context.Context, msg *Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: message record encode: %v", errs.ErrStorage, err)
	}
	return d.store.Put(ctx, storage.Key(storage.NamespaceGroupMessages, msg.ID), raw)
}

// invitationKey composes an invitation id under its group so the group
// prefix sweep catches it.
func invitationKey(groupID, id string) string {
	return groupID + "/" + id
}

func messageKey(groupID, id string) string {
	return groupID + "/" + id
}

// sortMessagesByTime orders a message slice oldest first.
func sortMessagesByTime(msgs []*Message) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
