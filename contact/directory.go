package contact

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/limits"
	"github.com/opd-ai/shroud/storage"
)

// Directory owns the contact map and the contact-request records.
// Reads return copies; persistence writes happen on snapshots outside
// the map lock.
type Directory struct {
	store       storage.Gateway
	maxContacts int

	mu       sync.RWMutex
	contacts map[string]*Contact // keyed by nickname
	requests map[string]*Request // keyed by request id
}

// NewDirectory creates an empty directory. maxContacts of 0 selects the
// default capacity.
func NewDirectory(store storage.Gateway, maxContacts int) *Directory {
	if maxContacts <= 0 {
		maxContacts = limits.DefaultMaxContacts
	}
	return &Directory{
		store:       store,
		maxContacts: maxContacts,
		contacts:    make(map[string]*Contact),
		requests:    make(map[string]*Request),
	}
}

// Hydrate loads persisted contacts and requests into memory. Called
// once at startup before the directory is used.
func (d *Directory) Hydrate(ctx context.Context) error {
	contactKeys, err := d.store.List(ctx, storage.Prefix(storage.NamespaceContacts))
	if err != nil {
		return err
	}
	requestKeys, err := d.store.List(ctx, storage.Prefix(storage.NamespaceContactRequests))
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, key := range contactKeys {
		raw, err := d.store.Get(ctx, key)
		if err != nil {
			return err
		}
		var c Contact
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("%w: contact record decode: %v", errs.ErrStorage, err)
		}
		d.contacts[c.Nickname] = &c
	}

	for _, key := range requestKeys {
		raw, err := d.store.Get(ctx, key)
		if err != nil {
			return err
		}
		var r Request
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("%w: request record decode: %v", errs.ErrStorage, err)
		}
		d.requests[r.ID] = &r
	}

	logrus.WithFields(logrus.Fields{
		"function": "Hydrate",
		"contacts": len(d.contacts),
		"requests": len(d.requests),
	}).Debug("Contact directory hydrated")

	return nil
}

// Add inserts a new contact. Fails with ErrConflict on a duplicate
// nickname and ErrCapacity when the directory is full.
func (d *Directory) Add(ctx context.Context, nickname string, hash crypto.IdentityHash, publicKey []byte) (*Contact, error) {
	if err := limits.ValidateNickname(nickname); err != nil {
		return nil, err
	}
	if _, err := crypto.ParsePublicKey(publicKey); err != nil {
		return nil, err
	}

	now := time.Now()
	c := &Contact{
		Nickname:     nickname,
		IdentityHash: hash,
		PublicKey:    append([]byte(nil), publicKey...),
		AddedAt:      now,
		LastSeen:     now,
	}

	d.mu.Lock()
	if _, exists := d.contacts[nickname]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: contact %q", errs.ErrConflict, nickname)
	}
	if len(d.contacts) >= d.maxContacts {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: contact directory is full (%d)", errs.ErrCapacity, d.maxContacts)
	}
	d.contacts[nickname] = c
	snapshot := c.clone()
	d.mu.Unlock()

	if err := d.persistContact(ctx, snapshot); err != nil {
		d.mu.Lock()
		delete(d.contacts, nickname)
		d.mu.Unlock()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Add",
		"nickname":      nickname,
		"identity_hash": hash.String(),
	}).Info("Contact added")

	return snapshot, nil
}

// Remove deletes a contact by nickname.
func (d *Directory) Remove(ctx context.Context, nickname string) error {
	d.mu.Lock()
	prev, exists := d.contacts[nickname]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: contact %q", errs.ErrNotFound, nickname)
	}
	delete(d.contacts, nickname)
	d.mu.Unlock()

	if err := d.store.Delete(ctx, storage.Key(storage.NamespaceContacts, nickname)); err != nil {
		d.mu.Lock()
		d.contacts[nickname] = prev
		d.mu.Unlock()
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Remove",
		"nickname": nickname,
	}).Info("Contact removed")

	return nil
}

// Get returns a copy of the contact record.
func (d *Directory) Get(nickname string) (*Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, exists := d.contacts[nickname]
	if !exists {
		return nil, fmt.Errorf("%w: contact %q", errs.ErrNotFound, nickname)
	}
	return c.clone(), nil
}

// List returns copies of all contacts.
func (d *Directory) List() []*Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Contact, 0, len(d.contacts))
	for _, c := range d.contacts {
		out = append(out, c.clone())
	}
	return out
}

// Len reports the number of contacts.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contacts)
}

// UpdatePublicKey installs a freshly rotated public key for a contact,
// incrementing the rotation counter and stamping the rotation time.
func (d *Directory) UpdatePublicKey(ctx context.Context, nickname string, publicKey []byte) error {
	if _, err := crypto.ParsePublicKey(publicKey); err != nil {
		return err
	}

	d.mu.Lock()
	c, exists := d.contacts[nickname]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: contact %q", errs.ErrNotFound, nickname)
	}
	c.PublicKey = append([]byte(nil), publicKey...)
	c.KeyRotationCount++
	c.LastKeyRotationAt = time.Now()
	snapshot := c.clone()
	d.mu.Unlock()

	if err := d.persistContact(ctx, snapshot); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":       "UpdatePublicKey",
		"nickname":       nickname,
		"rotation_count": snapshot.KeyRotationCount,
	}).Debug("Contact key rotated")

	return nil
}

// SetOnline updates a contact's presence and last-seen time.
func (d *Directory) SetOnline(ctx context.Context, nickname string, online bool) error {
	d.mu.Lock()
	c, exists := d.contacts[nickname]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: contact %q", errs.ErrNotFound, nickname)
	}
	c.IsOnline = online
	c.LastSeen = time.Now()
	snapshot := c.clone()
	d.mu.Unlock()

	return d.persistContact(ctx, snapshot)
}

// SendRequest records an outgoing contact request toward a target
// identity hash. The request starts Pending.
func (d *Directory) SendRequest(ctx context.Context, target crypto.IdentityHash, requesterNickname string, requesterPublicKey []byte) (*Request, error) {
	if err := limits.ValidateNickname(requesterNickname); err != nil {
		return nil, err
	}
	if target.IsZero() {
		return nil, fmt.Errorf("%w: target identity hash is unset", errs.ErrValidation)
	}
	if _, err := crypto.ParsePublicKey(requesterPublicKey); err != nil {
		return nil, err
	}

	r := &Request{
		ID:                 uuid.NewString(),
		TargetIdentityHash: target,
		RequesterNickname:  requesterNickname,
		RequesterPublicKey: append([]byte(nil), requesterPublicKey...),
		Timestamp:          time.Now(),
		Status:             RequestPending,
	}

	d.mu.Lock()
	d.requests[r.ID] = r
	snapshot := r.clone()
	d.mu.Unlock()

	if err := d.persistRequest(ctx, snapshot); err != nil {
		d.mu.Lock()
		delete(d.requests, r.ID)
		d.mu.Unlock()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "SendRequest",
		"request_id":  r.ID,
		"target_hash": target.String(),
	}).Info("Contact request recorded")

	return snapshot, nil
}

// ReceiveRequest records an incoming contact request. Exposed so the
// transport layer can feed decoded requests into the directory.
func (d *Directory) ReceiveRequest(ctx context.Context, r *Request) (*Request, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil request", errs.ErrValidation)
	}
	if err := limits.ValidateNickname(r.RequesterNickname); err != nil {
		return nil, err
	}
	if _, err := crypto.ParsePublicKey(r.RequesterPublicKey); err != nil {
		return nil, err
	}

	stored := r.clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Status = RequestPending
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}

	d.mu.Lock()
	d.requests[stored.ID] = stored
	snapshot := stored.clone()
	d.mu.Unlock()

	if err := d.persistRequest(ctx, snapshot); err != nil {
		d.mu.Lock()
		delete(d.requests, stored.ID)
		d.mu.Unlock()
		return nil, err
	}
	return snapshot, nil
}

// PendingRequests returns copies of all pending requests.
func (d *Directory) PendingRequests() []*Request {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*Request
	for _, r := range d.requests {
		if r.Status == RequestPending {
			out = append(out, r.clone())
		}
	}
	return out
}

// GetRequest returns a copy of a request by id.
func (d *Directory) GetRequest(id string) (*Request, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, exists := d.requests[id]
	if !exists {
		return nil, fmt.Errorf("%w: request %q", errs.ErrNotFound, id)
	}
	return r.clone(), nil
}

// AcceptRequest flips a pending request to Accepted and creates the
// contact in one step: either both the new contact and the Accepted
// status are committed, or neither is.
func (d *Directory) AcceptRequest(ctx context.Context, requestID string) (*Contact, error) {
	d.mu.Lock()
	r, exists := d.requests[requestID]
	if !exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: request %q", errs.ErrNotFound, requestID)
	}
	if r.Status != RequestPending {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: request %q already %s", errs.ErrConflict, requestID, r.Status)
	}
	if _, exists := d.contacts[r.RequesterNickname]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: contact %q", errs.ErrConflict, r.RequesterNickname)
	}
	if len(d.contacts) >= d.maxContacts {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: contact directory is full (%d)", errs.ErrCapacity, d.maxContacts)
	}

	now := time.Now()
	c := &Contact{
		Nickname:     r.RequesterNickname,
		IdentityHash: crypto.NewIdentityHash(r.RequesterPublicKey),
		PublicKey:    append([]byte(nil), r.RequesterPublicKey...),
		AddedAt:      now,
		LastSeen:     now,
	}
	r.Status = RequestAccepted
	d.contacts[c.Nickname] = c
	contactSnapshot := c.clone()
	requestSnapshot := r.clone()
	d.mu.Unlock()

	if err := d.persistContact(ctx, contactSnapshot); err != nil {
		d.revertAccept(requestID, c.Nickname)
		return nil, err
	}
	if err := d.persistRequest(ctx, requestSnapshot); err != nil {
		_ = d.store.Delete(ctx, storage.Key(storage.NamespaceContacts, c.Nickname))
		d.revertAccept(requestID, c.Nickname)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "AcceptRequest",
		"request_id": requestID,
		"nickname":   c.Nickname,
	}).Info("Contact request accepted")

	return contactSnapshot, nil
}

// revertAccept rolls back the in-memory effects of a failed accept.
func (d *Directory) revertAccept(requestID, nickname string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, exists := d.requests[requestID]; exists {
		r.Status = RequestPending
	}
	delete(d.contacts, nickname)
}

// RejectRequest flips a pending request to Rejected. Terminal states
// never transition again.
func (d *Directory) RejectRequest(ctx context.Context, requestID string) error {
	d.mu.Lock()
	r, exists := d.requests[requestID]
	if !exists {
		d.mu.Unlock()
		return fmt.Errorf("%w: request %q", errs.ErrNotFound, requestID)
	}
	if r.Status != RequestPending {
		d.mu.Unlock()
		return fmt.Errorf("%w: request %q already %s", errs.ErrConflict, requestID, r.Status)
	}
	r.Status = RequestRejected
	snapshot := r.clone()
	d.mu.Unlock()

	if err := d.persistRequest(ctx, snapshot); err != nil {
		d.mu.Lock()
		if r, exists := d.requests[requestID]; exists {
			r.Status = RequestPending
		}
		d.mu.Unlock()
		return err
	}
	return nil
}

// EncryptMessage seals a plaintext for a contact under the contact's
// current public key. Unknown contacts fail with ErrNotFound.
func (d *Directory) EncryptMessage(plaintext []byte, nickname string) (*crypto.EncryptedEnvelope, error) {
	d.mu.RLock()
	c, exists := d.contacts[nickname]
	var keyDER []byte
	if exists {
		keyDER = append([]byte(nil), c.PublicKey...)
	}
	d.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: contact %q", errs.ErrNotFound, nickname)
	}

	pub, err := crypto.ParsePublicKey(keyDER)
	if err != nil {
		return nil, err
	}
	return crypto.Seal(plaintext, pub)
}

func (d *Directory) persistContact(ctx context.Context, c *Contact) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: contact record encode: %v", errs.ErrStorage, err)
	}
	return d.store.Put(ctx, storage.Key(storage.NamespaceContacts, c.Nickname), raw)
}

func (d *Directory) persistRequest(ctx context.Context, r *Request) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%w: request record encode: %v", errs.ErrStorage, err)
	}
	return d.store.Put(ctx, storage.Key(storage.NamespaceContactRequests, r.ID), raw)
}
