package discovery

import (
	"net"

	"github.com/google/uuid"

	"github.com/opd-ai/shroud/transport"
)

// pexSampleSize bounds how many relays one exchange shares. Small
// samples keep any single peer from flooding the relay set.
const pexSampleSize = 5

// pexService trades relay samples with peers over UDP.
type pexService struct {
	relays    *relaySet
	transport transport.Transport
	onRelay   func(*RelayInfo, string)
}

func newPEXService(relays *relaySet, tr transport.Transport, onRelay func(*RelayInfo, string)) *pexService {
	s := &pexService{
		relays:    relays,
		transport: tr,
		onRelay:   onRelay,
	}
	tr.RegisterHandler(transport.PacketPexRequest, s.handleRequest)
	tr.RegisterHandler(transport.PacketPexResponse, s.handleResponse)
	return s
}

func (s *pexService) handleRequest(p *transport.Packet, addr net.Addr) error {
	var body pexBody
	if err := decodeBody(p.Data, &body); err != nil {
		return err
	}
	// The request may carry the peer's own sample; merge it.
	s.merge(body.Relays)

	resp := pexBody{TxID: body.TxID}
	for _, r := range s.relays.sample(pexSampleSize) {
		resp.Relays = append(resp.Relays, toWireRelay(r))
	}
	raw, err := encodeBody(resp)
	if err != nil {
		return err
	}
	return s.transport.Send(&transport.Packet{Type: transport.PacketPexResponse, Data: raw}, addr)
}

func (s *pexService) handleResponse(p *transport.Packet, _ net.Addr) error {
	var body pexBody
	if err := decodeBody(p.Data, &body); err != nil {
		return err
	}
	s.merge(body.Relays)
	return nil
}

func (s *pexService) merge(relays []wireRelay) {
	for _, w := range relays {
		r, err := fromWireRelay(w)
		if err != nil {
			continue
		}
		s.onRelay(r, "pex")
	}
}

// exchange offers a sample to a peer and implicitly requests one back.
func (s *pexService) exchange(addr net.Addr) error {
	body := pexBody{TxID: uuid.NewString()}
	for _, r := range s.relays.sample(pexSampleSize) {
		body.Relays = append(body.Relays, toWireRelay(r))
	}
	raw, err := encodeBody(body)
	if err != nil {
		return err
	}
	return s.transport.Send(&transport.Packet{Type: transport.PacketPexRequest, Data: raw}, addr)
}
