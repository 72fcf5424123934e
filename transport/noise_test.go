package transport

import (
	"net"
	"testing"
)

func TestNoiseExchangeRoundTrip(t *testing.T) {
	client, err := NewNoiseExchanger()
	if err != nil {
		t.Fatalf("NewNoiseExchanger failed: %v", err)
	}
	server, err := NewNoiseExchanger()
	if err != nil {
		t.Fatalf("NewNoiseExchanger failed: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ServeExchange(serverConn, func(req *Packet, _ net.Addr) (*Packet, error) {
			return &Packet{Type: PacketTrackerResponse, Data: append([]byte("ack:"), req.Data...)}, nil
		})
	}()

	resp, err := client.Exchange(clientConn, server.PublicKey(), &Packet{
		Type: PacketTrackerAnnounce,
		Data: []byte("relay-announce"),
	})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if string(resp.Data) != "ack:relay-announce" {
		t.Errorf("response = %q, want authenticated echo", resp.Data)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("ServeExchange failed: %v", err)
	}
}

func TestNoiseExchangeWrongStaticKey(t *testing.T) {
	client, err := NewNoiseExchanger()
	if err != nil {
		t.Fatalf("NewNoiseExchanger failed: %v", err)
	}
	server, err := NewNoiseExchanger()
	if err != nil {
		t.Fatalf("NewNoiseExchanger failed: %v", err)
	}
	impostor, err := NewNoiseExchanger()
	if err != nil {
		t.Fatalf("NewNoiseExchanger failed: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		// The handshake fails server-side; drain and exit.
		_ = server.ServeExchange(serverConn, func(req *Packet, _ net.Addr) (*Packet, error) {
			return &Packet{Type: PacketTrackerResponse}, nil
		})
		serverConn.Close()
	}()

	// Authenticating against the impostor's key must not succeed.
	if _, err := client.Exchange(clientConn, impostor.PublicKey(), &Packet{
		Type: PacketTrackerAnnounce,
		Data: []byte("x"),
	}); err == nil {
		t.Error("exchange succeeded against the wrong static key")
	}
}
