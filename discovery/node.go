package discovery

import (
	"net"
	"time"

	"github.com/opd-ai/shroud/crypto"
)

// nodeStatus tracks responsiveness of a node table entry.
type nodeStatus uint8

const (
	nodeUnknown nodeStatus = iota
	nodeGood
	nodeQuestionable
	nodeBad
)

// Node is an entry in the node table: a peer that speaks the
// discovery protocol, identified by its hash.
type Node struct {
	Hash     crypto.IdentityHash
	Addr     *net.UDPAddr
	Status   nodeStatus
	LastSeen time.Time
}

// NewNode creates a node entry stamped as just seen.
func NewNode(hash crypto.IdentityHash, addr *net.UDPAddr) *Node {
	return &Node{
		Hash:     hash,
		Addr:     addr,
		Status:   nodeUnknown,
		LastSeen: time.Now(),
	}
}

// Update marks the node as responsive.
func (n *Node) Update() {
	n.Status = nodeGood
	n.LastSeen = time.Now()
}

// clone returns an independent copy so table readers never share
// memory with entries the handlers mutate.
func (n *Node) clone() *Node {
	out := *n
	if n.Addr != nil {
		addr := *n.Addr
		addr.IP = append(net.IP(nil), n.Addr.IP...)
		out.Addr = &addr
	}
	return &out
}

// IsStale reports whether the node has been silent past the timeout.
func (n *Node) IsStale(timeout time.Duration) bool {
	return time.Since(n.LastSeen) > timeout
}
