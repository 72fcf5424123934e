package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/transport"
)

const (
	// defaultAnnounceInterval applies until a tracker dictates its own.
	defaultAnnounceInterval = 15 * time.Minute
	// trackerNumWant is how many relays an announce asks for.
	trackerNumWant = 50
)

// trackerClient announces to trackers over TCP and merges the relay
// lists they return. Trackers control the announce cadence through the
// interval fields of their responses. Trackers with a known static key
// are spoken to over an authenticated exchange; the rest get the plain
// framed exchange.
type trackerClient struct {
	selfHash crypto.IdentityHash
	selfAd   *RelayInfo
	keys     map[string][]byte
	noise    *transport.NoiseExchanger
	onRelay  func(*RelayInfo, string)
}

func newTrackerClient(selfHash crypto.IdentityHash, selfAd *RelayInfo, keys map[string][]byte, onRelay func(*RelayInfo, string)) *trackerClient {
	exchanger, err := transport.NewNoiseExchanger()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "newTrackerClient",
			"error":    err,
		}).Warn("Noise exchanger unavailable, trackers fall back to plain exchange")
	}
	return &trackerClient{
		selfHash: selfHash,
		selfAd:   selfAd,
		keys:     keys,
		noise:    exchanger,
		onRelay:  onRelay,
	}
}

// exchange picks the authenticated or plain path for one tracker.
func (c *trackerClient) exchange(ctx context.Context, addr string, req *transport.Packet) (*transport.Packet, error) {
	if static, known := c.keys[addr]; known && c.noise != nil {
		return c.noise.ExchangeNoiseTCP(ctx, addr, static, req)
	}
	return transport.ExchangeTCP(ctx, addr, req)
}

// announceResult is what one successful tracker exchange yields.
type announceResult struct {
	relays      []*RelayInfo
	interval    time.Duration
	minInterval time.Duration
}

// announce runs one exchange against a tracker address.
func (c *trackerClient) announce(ctx context.Context, addr string) (*announceResult, error) {
	req := trackerAnnounce{
		TxID:       uuid.NewString(),
		SenderHash: c.selfHash.String(),
		NumWant:    trackerNumWant,
	}
	if c.selfAd != nil {
		req.Relay = toWireRelay(c.selfAd)
	}
	raw, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.exchange(ctx, addr, &transport.Packet{
		Type: transport.PacketTrackerAnnounce,
		Data: raw,
	})
	if err != nil {
		metricAnnounceFailures.Inc()
		return nil, err
	}
	if resp.Type != transport.PacketTrackerResponse {
		metricAnnounceFailures.Inc()
		return nil, fmt.Errorf("%w: tracker answered with packet type %d", errs.ErrNetwork, resp.Type)
	}

	var body trackerResponse
	if err := decodeBody(resp.Data, &body); err != nil {
		metricAnnounceFailures.Inc()
		return nil, err
	}

	result := &announceResult{
		interval:    time.Duration(body.Interval) * time.Second,
		minInterval: time.Duration(body.MinInterval) * time.Second,
	}
	if result.interval <= 0 {
		result.interval = defaultAnnounceInterval
	}
	// A tracker never gets an announce cadence below its own floor.
	if result.interval < result.minInterval {
		result.interval = result.minInterval
	}
	for _, w := range body.Relays {
		r, err := fromWireRelay(w)
		if err != nil {
			continue
		}
		result.relays = append(result.relays, r)
		c.onRelay(r, "tracker")
	}

	logrus.WithFields(logrus.Fields{
		"function": "announce",
		"tracker":  addr,
		"relays":   len(result.relays),
		"interval": result.interval.String(),
	}).Debug("Tracker announce completed")

	return result, nil
}
