// Package transport provides the wire layer: the packet codec shared
// by every protocol message, a UDP transport with per-type handlers
// for datagram exchanges, length-prefixed TCP framing for tracker
// conversations, and an authenticated exchange built on the Noise IK
// pattern.
package transport

import (
	"fmt"

	"github.com/opd-ai/shroud/errs"
)

// PacketType identifies the protocol message carried by a packet.
type PacketType byte

const (
	// PacketPing probes whether a node is alive.
	PacketPing PacketType = iota + 1
	// PacketPong answers a ping.
	PacketPong
	// PacketFindNode asks for the nodes closest to a target hash.
	PacketFindNode
	// PacketFoundNodes carries the closest-node answer.
	PacketFoundNodes
	// PacketGetPeers asks for known relays near a target hash.
	PacketGetPeers
	// PacketPeers carries the known-relay answer.
	PacketPeers
	// PacketAnnouncePeer advertises the sender as a reachable relay.
	PacketAnnouncePeer
	// PacketAnnounceOK acknowledges an announce.
	PacketAnnounceOK
	// PacketTrackerAnnounce is the client half of a tracker exchange.
	PacketTrackerAnnounce
	// PacketTrackerResponse is the tracker half of the exchange.
	PacketTrackerResponse
	// PacketPexRequest asks a peer for a sample of its relay list.
	PacketPexRequest
	// PacketPexResponse carries the sampled relay list.
	PacketPexResponse
)

// Packet is a parsed protocol message: a one-byte type followed by the
// message body.
type Packet struct {
	Type PacketType
	Data []byte
}

// Serialize encodes the packet for the wire.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Type == 0 {
		return nil, fmt.Errorf("%w: packet type is unset", errs.ErrValidation)
	}
	buf := make([]byte, 1+len(p.Data))
	buf[0] = byte(p.Type)
	copy(buf[1:], p.Data)
	return buf, nil
}

// ParsePacket decodes a wire buffer into a packet. The data slice is
// copied so the caller may reuse the buffer.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("%w: empty packet", errs.ErrValidation)
	}
	return &Packet{
		Type: PacketType(buf[0]),
		Data: append([]byte(nil), buf[1:]...),
	}, nil
}
