package discovery

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/transport"
)

const (
	// closestNodeCount is how many nodes a find-node answer carries.
	closestNodeCount = 8
	// getPeersRelayCount is how many relays a get-peers answer carries.
	getPeersRelayCount = 8
	// dhtRatePerSecond bounds inbound node table traffic.
	dhtRatePerSecond = 50
	dhtRateBurst     = 100
)

// dhtService answers node table queries over the UDP transport and
// feeds relay advertisements into the relay set.
type dhtService struct {
	selfHash  crypto.IdentityHash
	table     *Table
	relays    *relaySet
	transport transport.Transport
	limiter   *rate.Limiter
	onRelay   func(*RelayInfo, string)
}

func newDHTService(selfHash crypto.IdentityHash, table *Table, relays *relaySet, tr transport.Transport, onRelay func(*RelayInfo, string)) *dhtService {
	s := &dhtService{
		selfHash:  selfHash,
		table:     table,
		relays:    relays,
		transport: tr,
		limiter:   rate.NewLimiter(rate.Limit(dhtRatePerSecond), dhtRateBurst),
		onRelay:   onRelay,
	}
	tr.RegisterHandler(transport.PacketPing, s.handlePing)
	tr.RegisterHandler(transport.PacketPong, s.handlePong)
	tr.RegisterHandler(transport.PacketFindNode, s.handleFindNode)
	tr.RegisterHandler(transport.PacketFoundNodes, s.handleFoundNodes)
	tr.RegisterHandler(transport.PacketGetPeers, s.handleGetPeers)
	tr.RegisterHandler(transport.PacketPeers, s.handlePeers)
	tr.RegisterHandler(transport.PacketAnnouncePeer, s.handleAnnouncePeer)
	return s
}

// allow applies the inbound rate limit shared by all handlers.
func (s *dhtService) allow() bool {
	if s.limiter.Allow() {
		return true
	}
	metricDHTThrottled.Inc()
	return false
}

// observe records the sender in the node table.
func (s *dhtService) observe(senderHash string, addr net.Addr) {
	hash, err := crypto.ParseIdentityHash(senderHash)
	if err != nil {
		return
	}
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return
	}
	n := NewNode(hash, udpAddr)
	n.Update()
	s.table.Add(n)
}

func (s *dhtService) handlePing(p *transport.Packet, addr net.Addr) error {
	if !s.allow() {
		return nil
	}
	metricDHTRequests.WithLabelValues("ping").Inc()

	var body pingBody
	if err := decodeBody(p.Data, &body); err != nil {
		return err
	}
	s.observe(body.SenderHash, addr)

	raw, err := encodeBody(pingBody{TxID: body.TxID, SenderHash: s.selfHash.String()})
	if err != nil {
		return err
	}
	return s.transport.Send(&transport.Packet{Type: transport.PacketPong, Data: raw}, addr)
}

func (s *dhtService) handlePong(p *transport.Packet, addr net.Addr) error {
	var body pingBody
	if err := decodeBody(p.Data, &body); err != nil {
		return err
	}
	s.observe(body.SenderHash, addr)
	return nil
}

func (s *dhtService) handleFindNode(p *transport.Packet, addr net.Addr) error {
	if !s.allow() {
		return nil
	}
	metricDHTRequests.WithLabelValues("find_node").Inc()

	var body findNodeBody
	if err := decodeBody(p.Data, &body); err != nil {
		return err
	}
	s.observe(body.SenderHash, addr)

	target, err := crypto.ParseIdentityHash(body.Target)
	if err != nil {
		return err
	}

	closest := s.table.Closest(target, closestNodeCount)
	nodes := make([]wireNode, 0, len(closest))
	for _, n := range closest {
		nodes = append(nodes, toWireNode(n))
	}
	raw, err := encodeBody(foundNodesBody{TxID: body.TxID, Nodes: nodes})
	if err != nil {
		return err
	}
	return s.transport.Send(&transport.Packet{Type: transport.PacketFoundNodes, Data: raw}, addr)
}

func (s *dhtService) handleFoundNodes(p *transport.Packet, _ net.Addr) error {
	var body foundNodesBody
	if err := decodeBody(p.Data, &body); err != nil {
		return err
	}
	for _, w := range body.Nodes {
		n, err := fromWireNode(w)
		if err != nil {
			continue
		}
		if n.Hash == s.selfHash {
			continue
		}
		s.table.Add(n)
	}
	return nil
}

func (s *dhtService) handleGetPeers(p *transport.Packet, addr net.Addr) error {
	if !s.allow() {
		return nil
	}
	metricDHTRequests.WithLabelValues("get_peers").Inc()

	var body getPeersBody
	if err := decodeBody(p.Data, &body); err != nil {
		return err
	}
	s.observe(body.SenderHash, addr)

	target, err := crypto.ParseIdentityHash(body.Target)
	if err != nil {
		return err
	}

	// A bounded sample keeps the response inside one datagram.
	resp := peersBody{TxID: body.TxID}
	for _, r := range s.relays.sample(getPeersRelayCount) {
		resp.Relays = append(resp.Relays, toWireRelay(r))
	}
	// Known relays or not, point the caller at closer nodes.
	for _, n := range s.table.Closest(target, closestNodeCount) {
		resp.Nodes = append(resp.Nodes, toWireNode(n))
	}
	raw, err := encodeBody(resp)
	if err != nil {
		return err
	}
	return s.transport.Send(&transport.Packet{Type: transport.PacketPeers, Data: raw}, addr)
}

func (s *dhtService) handlePeers(p *transport.Packet, _ net.Addr) error {
	var body peersBody
	if err := decodeBody(p.Data, &body); err != nil {
		return err
	}
	for _, w := range body.Relays {
		r, err := fromWireRelay(w)
		if err != nil {
			continue
		}
		s.onRelay(r, "dht")
	}
	for _, w := range body.Nodes {
		n, err := fromWireNode(w)
		if err != nil || n.Hash == s.selfHash {
			continue
		}
		s.table.Add(n)
	}
	return nil
}

func (s *dhtService) handleAnnouncePeer(p *transport.Packet, addr net.Addr) error {
	if !s.allow() {
		return nil
	}
	metricDHTRequests.WithLabelValues("announce_peer").Inc()

	var body announcePeerBody
	if err := decodeBody(p.Data, &body); err != nil {
		return err
	}
	r, err := fromWireRelay(body.Relay)
	if err != nil {
		return err
	}
	s.onRelay(r, "announce")

	raw, err := encodeBody(pingBody{TxID: body.TxID, SenderHash: s.selfHash.String()})
	if err != nil {
		return err
	}
	return s.transport.Send(&transport.Packet{Type: transport.PacketAnnounceOK, Data: raw}, addr)
}

// ping sends a liveness probe to a node.
func (s *dhtService) ping(addr net.Addr) error {
	raw, err := encodeBody(pingBody{TxID: uuid.NewString(), SenderHash: s.selfHash.String()})
	if err != nil {
		return err
	}
	return s.transport.Send(&transport.Packet{Type: transport.PacketPing, Data: raw}, addr)
}

// findNode queries a node for peers near the local hash.
func (s *dhtService) findNode(addr net.Addr, target crypto.IdentityHash) error {
	raw, err := encodeBody(findNodeBody{
		TxID:       uuid.NewString(),
		SenderHash: s.selfHash.String(),
		Target:     target.String(),
	})
	if err != nil {
		return err
	}
	return s.transport.Send(&transport.Packet{Type: transport.PacketFindNode, Data: raw}, addr)
}

// getPeers queries a node for relays near the local hash.
func (s *dhtService) getPeers(addr net.Addr) error {
	raw, err := encodeBody(getPeersBody{
		TxID:       uuid.NewString(),
		SenderHash: s.selfHash.String(),
		Target:     s.selfHash.String(),
	})
	if err != nil {
		return err
	}
	return s.transport.Send(&transport.Packet{Type: transport.PacketGetPeers, Data: raw}, addr)
}

// refresh walks the node table, pinging stale entries and asking good
// ones for closer peers.
func (s *dhtService) refresh(staleAfter time.Duration) {
	for _, n := range s.table.AllNodes() {
		if n.IsStale(staleAfter) {
			if err := s.ping(n.Addr); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "refresh",
					"node":     n.Addr.String(),
					"error":    err,
				}).Debug("Node ping failed")
			}
			continue
		}
		_ = s.findNode(n.Addr, s.selfHash)
		_ = s.getPeers(n.Addr)
	}
}
