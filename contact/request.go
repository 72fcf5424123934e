package contact

import (
	"time"

	"github.com/opd-ai/shroud/crypto"
)

// RequestStatus is the lifecycle state of a contact request.
type RequestStatus uint8

const (
	// RequestPending awaits a decision.
	RequestPending RequestStatus = iota
	// RequestAccepted is terminal; a contact was created.
	RequestAccepted
	// RequestRejected is terminal.
	RequestRejected
)

// String returns a human-readable status name.
func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestAccepted:
		return "accepted"
	case RequestRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Request is a contact-request handshake record. Once resolved it never
// re-enters the pending state.
type Request struct {
	ID                 string              `json:"request_id"`
	TargetIdentityHash crypto.IdentityHash `json:"target_identity_hash"`
	RequesterNickname  string              `json:"requester_nickname"`
	RequesterPublicKey []byte              `json:"requester_public_key"`
	Timestamp          time.Time           `json:"timestamp"`
	Status             RequestStatus       `json:"status"`
}

func (r *Request) clone() *Request {
	out := *r
	out.RequesterPublicKey = append([]byte(nil), r.RequesterPublicKey...)
	return &out
}
