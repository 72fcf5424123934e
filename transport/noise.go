package transport

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"

	"github.com/flynn/noise"

	"github.com/opd-ai/shroud/errs"
)

// noiseSuite is the cipher suite for authenticated relay exchanges.
var noiseSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// NoiseExchanger runs authenticated request/response exchanges using
// the Noise IK pattern. The two handshake messages carry the request
// and response as their payloads, so a full exchange costs one round
// trip and proves the relay's static key.
type NoiseExchanger struct {
	static noise.DHKey
}

// NewNoiseExchanger generates a fresh static key pair.
func NewNoiseExchanger() (*NoiseExchanger, error) {
	static, err := noiseSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: noise keypair: %v", errs.ErrCrypto, err)
	}
	return &NoiseExchanger{static: static}, nil
}

// PublicKey returns the static public key peers authenticate against.
func (e *NoiseExchanger) PublicKey() []byte {
	return append([]byte(nil), e.static.Public...)
}

// Exchange sends one request over the connection and reads one
// response, authenticating the responder against its known static key.
func (e *NoiseExchanger) Exchange(conn net.Conn, responderStatic []byte, req *Packet) (*Packet, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: e.static,
		PeerStatic:    responderStatic,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: handshake init: %v", errs.ErrCrypto, err)
	}

	reqBuf, err := req.Serialize()
	if err != nil {
		return nil, err
	}
	msg1, _, _, err := hs.WriteMessage(nil, reqBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: handshake write: %v", errs.ErrCrypto, err)
	}
	if err := WriteFrame(conn, &Packet{Type: PacketTrackerAnnounce, Data: msg1}); err != nil {
		return nil, err
	}

	frame, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	respBuf, _, _, err := hs.ReadMessage(nil, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: handshake read: %v", errs.ErrCrypto, err)
	}
	return ParsePacket(respBuf)
}

// ExchangeNoiseTCP dials the address and runs one authenticated
// exchange against the responder's known static key. The TCP
// counterpart of ExchangeTCP for peers whose key we hold.
func (e *NoiseExchanger) ExchangeNoiseTCP(ctx context.Context, addr string, responderStatic []byte, req *Packet) (*Packet, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %q: %v", errs.ErrNetwork, addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return e.Exchange(conn, responderStatic, req)
}

// ServeNoiseTCP accepts connections and answers one authenticated
// exchange per connection until the context is cancelled. The server
// half of ExchangeNoiseTCP.
func (e *NoiseExchanger) ServeNoiseTCP(ctx context.Context, lis net.Listener, handler ExchangeHandler) {
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
			continue
		}
		go func(c net.Conn) {
			defer c.Close()
			_ = e.ServeExchange(c, handler)
		}(conn)
	}
}

// ServeExchange answers one authenticated exchange on the connection,
// passing the decrypted request to the handler and sealing its
// response back to the initiator.
func (e *NoiseExchanger) ServeExchange(conn net.Conn, handler ExchangeHandler) error {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     false,
		StaticKeypair: e.static,
	})
	if err != nil {
		return fmt.Errorf("%w: handshake init: %v", errs.ErrCrypto, err)
	}

	frame, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	reqBuf, _, _, err := hs.ReadMessage(nil, frame.Data)
	if err != nil {
		return fmt.Errorf("%w: handshake read: %v", errs.ErrCrypto, err)
	}
	req, err := ParsePacket(reqBuf)
	if err != nil {
		return err
	}

	resp, err := handler(req, conn.RemoteAddr())
	if err != nil {
		return err
	}
	respBuf, err := resp.Serialize()
	if err != nil {
		return err
	}
	msg2, _, _, err := hs.WriteMessage(nil, respBuf)
	if err != nil {
		return fmt.Errorf("%w: handshake write: %v", errs.ErrCrypto, err)
	}
	return WriteFrame(conn, &Packet{Type: PacketTrackerResponse, Data: msg2})
}
