package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shroud/errs"
)

// maxDatagram bounds a single UDP read. Sized for the largest
// JSON-bodied answer a peer may send rather than a typical one, so a
// full relay sample never truncates.
const maxDatagram = 65507

// PacketHandler processes one received packet. Handlers run on the
// read goroutine and must not block.
type PacketHandler func(packet *Packet, addr net.Addr) error

// Transport sends and receives packets over a datagram socket.
type Transport interface {
	Send(packet *Packet, addr net.Addr) error
	RegisterHandler(t PacketType, handler PacketHandler)
	LocalAddr() net.Addr
	Close() error
}

// UDPTransport is the datagram transport used for node table and relay
// discovery traffic.
type UDPTransport struct {
	conn *net.UDPConn

	mu       sync.RWMutex
	handlers map[PacketType]PacketHandler

	closeOnce sync.Once
	done      chan struct{}
}

// NewUDPTransport binds a UDP socket on the given address and starts
// the read loop.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %v", errs.ErrNetwork, listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %q: %v", errs.ErrNetwork, listenAddr, err)
	}

	t := &UDPTransport{
		conn:     conn,
		handlers: make(map[PacketType]PacketHandler),
		done:     make(chan struct{}),
	}
	go t.readLoop()

	logrus.WithFields(logrus.Fields{
		"function": "NewUDPTransport",
		"addr":     conn.LocalAddr().String(),
	}).Debug("UDP transport listening")

	return t, nil
}

// RegisterHandler installs the handler for a packet type, replacing
// any previous handler.
func (t *UDPTransport) RegisterHandler(pt PacketType, handler PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[pt] = handler
}

// Send serializes and transmits a packet to the given address.
func (t *UDPTransport) Send(packet *Packet, addr net.Addr) error {
	buf, err := packet.Serialize()
	if err != nil {
		return err
	}
	if _, err := t.conn.WriteTo(buf, addr); err != nil {
		return fmt.Errorf("%w: send to %s: %v", errs.ErrNetwork, addr, err)
	}
	return nil
}

// LocalAddr returns the bound socket address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close shuts down the socket and stops the read loop. Idempotent.
func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"error":    err,
			}).Debug("UDP read failed")
			continue
		}

		packet, err := ParsePacket(buf[:n])
		if err != nil {
			continue
		}

		t.mu.RLock()
		handler, exists := t.handlers[packet.Type]
		t.mu.RUnlock()
		if !exists {
			continue
		}

		if err := handler(packet, addr); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "readLoop",
				"packet_type": packet.Type,
				"from":        addr.String(),
				"error":       err,
			}).Debug("Packet handler failed")
		}
	}
}
