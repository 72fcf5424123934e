package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/limits"
)

// dialTimeout bounds a tracker connection attempt when the caller's
// context has no earlier deadline.
const dialTimeout = 10 * time.Second

// WriteFrame writes a packet as a length-prefixed TCP frame.
func WriteFrame(w io.Writer, packet *Packet) error {
	buf, err := packet.Serialize()
	if err != nil {
		return err
	}
	if len(buf) > limits.MaxWireFrame {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit", errs.ErrValidation, len(buf))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(buf)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("%w: write frame header: %v", errs.ErrNetwork, err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: write frame body: %v", errs.ErrNetwork, err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and parses the packet.
// Frames above the wire limit are rejected before the body is read.
func ReadFrame(r io.Reader) (*Packet, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: read frame header: %v", errs.ErrNetwork, err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > uint32(limits.MaxWireFrame) {
		return nil, fmt.Errorf("%w: frame size %d out of range", errs.ErrValidation, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read frame body: %v", errs.ErrNetwork, err)
	}
	return ParsePacket(buf)
}

// ExchangeTCP dials the address, sends one request frame, and reads
// one response frame. The context bounds the whole exchange.
func ExchangeTCP(ctx context.Context, addr string, req *Packet) (*Packet, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %q: %v", errs.ErrNetwork, addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := WriteFrame(conn, req); err != nil {
		return nil, err
	}
	return ReadFrame(conn)
}

// ExchangeHandler answers a single request frame with a response
// packet.
type ExchangeHandler func(req *Packet, remote net.Addr) (*Packet, error)

// ServeTCP accepts connections and answers one exchange per
// connection until the context is cancelled. It is the server half of
// ExchangeTCP, used by relays and by tests.
func ServeTCP(ctx context.Context, lis net.Listener, handler ExchangeHandler) {
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logrus.WithFields(logrus.Fields{
				"function": "ServeTCP",
				"error":    err,
			}).Debug("Accept failed")
			continue
		}
		go serveExchange(conn, handler)
	}
}

func serveExchange(conn net.Conn, handler ExchangeHandler) {
	defer conn.Close()

	req, err := ReadFrame(conn)
	if err != nil {
		return
	}
	resp, err := handler(req, conn.RemoteAddr())
	if err != nil || resp == nil {
		return
	}
	_ = WriteFrame(conn, resp)
}
