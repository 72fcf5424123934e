package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/errs"
)

// wireNode is the JSON encoding of a node table entry.
type wireNode struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

// wireRelay is the JSON encoding of a relay advertisement.
type wireRelay struct {
	Host         string   `json:"host"`
	Port         uint16   `json:"port"`
	PublicKey    []byte   `json:"public_key,omitempty"`
	RelayHash    string   `json:"relay_hash"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// pingBody is the body of ping and pong packets.
type pingBody struct {
	TxID       string `json:"tx_id"`
	SenderHash string `json:"sender_hash"`
}

// findNodeBody asks for nodes near a target.
type findNodeBody struct {
	TxID       string `json:"tx_id"`
	SenderHash string `json:"sender_hash"`
	Target     string `json:"target"`
}

// foundNodesBody answers a find-node query.
type foundNodesBody struct {
	TxID  string     `json:"tx_id"`
	Nodes []wireNode `json:"nodes"`
}

// getPeersBody asks for relays near a target.
type getPeersBody struct {
	TxID       string `json:"tx_id"`
	SenderHash string `json:"sender_hash"`
	Target     string `json:"target"`
}

// peersBody answers a get-peers query.
type peersBody struct {
	TxID   string      `json:"tx_id"`
	Relays []wireRelay `json:"relays"`
	Nodes  []wireNode  `json:"nodes"`
}

// announcePeerBody advertises the sender as a relay.
type announcePeerBody struct {
	TxID  string    `json:"tx_id"`
	Relay wireRelay `json:"relay"`
}

// trackerAnnounce is the client half of a tracker exchange.
type trackerAnnounce struct {
	TxID       string    `json:"tx_id"`
	SenderHash string    `json:"sender_hash"`
	Relay      wireRelay `json:"relay,omitempty"`
	NumWant    int       `json:"num_want"`
}

// trackerResponse is the tracker's answer: a relay list plus the
// intervals governing the next announce.
type trackerResponse struct {
	TxID        string      `json:"tx_id"`
	Interval    int         `json:"interval"`
	MinInterval int         `json:"min_interval"`
	Relays      []wireRelay `json:"relays"`
}

// pexBody carries a sampled relay list between peers.
type pexBody struct {
	TxID   string      `json:"tx_id"`
	Relays []wireRelay `json:"relays"`
}

func encodeBody(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: body encode: %v", errs.ErrValidation, err)
	}
	return raw, nil
}

func decodeBody(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: body decode: %v", errs.ErrValidation, err)
	}
	return nil
}

func toWireRelay(r *RelayInfo) wireRelay {
	return wireRelay{
		Host:         r.Host,
		Port:         r.Port,
		PublicKey:    r.PublicKey,
		RelayHash:    r.RelayHash.String(),
		Capabilities: r.Capabilities,
	}
}

func fromWireRelay(w wireRelay) (*RelayInfo, error) {
	if w.Host == "" || w.Port == 0 {
		return nil, fmt.Errorf("%w: relay endpoint incomplete", errs.ErrValidation)
	}
	hash, err := crypto.ParseIdentityHash(w.RelayHash)
	if err != nil {
		return nil, err
	}
	return &RelayInfo{
		Host:         w.Host,
		Port:         w.Port,
		PublicKey:    append([]byte(nil), w.PublicKey...),
		RelayHash:    hash,
		Capabilities: append([]string(nil), w.Capabilities...),
	}, nil
}

func toWireNode(n *Node) wireNode {
	return wireNode{
		Hash: n.Hash.String(),
		Addr: n.Addr.String(),
	}
}

func fromWireNode(w wireNode) (*Node, error) {
	hash, err := crypto.ParseIdentityHash(w.Hash)
	if err != nil {
		return nil, err
	}
	host, portStr, err := net.SplitHostPort(w.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: node addr %q: %v", errs.ErrValidation, w.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: node port %q", errs.ErrValidation, portStr)
	}
	return NewNode(hash, &net.UDPAddr{IP: net.ParseIP(host), Port: port}), nil
}
