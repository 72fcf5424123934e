package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/limits"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &Packet{Type: PacketTrackerAnnounce, Data: []byte("announce body")}

	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if out.Type != in.Type || string(out.Data) != string(in.Data) {
		t.Error("frame round trip lost the packet")
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(limits.MaxWireFrame)+1)
	buf.Write(header[:])

	if _, err := ReadFrame(&buf); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("ReadFrame oversize = %v, want ErrValidation", err)
	}
}

func TestReadFrameRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	buf.Write(header[:])

	if _, err := ReadFrame(&buf); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("ReadFrame zero-length = %v, want ErrValidation", err)
	}
}

func TestExchangeTCP(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ServeTCP(ctx, lis, func(req *Packet, _ net.Addr) (*Packet, error) {
		if req.Type != PacketTrackerAnnounce {
			t.Errorf("server saw type %d, want announce", req.Type)
		}
		return &Packet{Type: PacketTrackerResponse, Data: req.Data}, nil
	})

	exCtx, exCancel := context.WithTimeout(ctx, 5*time.Second)
	defer exCancel()

	resp, err := ExchangeTCP(exCtx, lis.Addr().String(), &Packet{
		Type: PacketTrackerAnnounce,
		Data: []byte("hello"),
	})
	if err != nil {
		t.Fatalf("ExchangeTCP failed: %v", err)
	}
	if resp.Type != PacketTrackerResponse || string(resp.Data) != "hello" {
		t.Error("exchange did not echo through the server")
	}
}

func TestExchangeTCPConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// A port nothing listens on.
	_, err := ExchangeTCP(ctx, "127.0.0.1:1", &Packet{Type: PacketPing})
	if !errors.Is(err, errs.ErrNetwork) {
		t.Errorf("ExchangeTCP to dead port = %v, want ErrNetwork", err)
	}
}
