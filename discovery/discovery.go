package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/transport"
)

// State is the discovery lifecycle state.
type State uint32

const (
	// StateStopped is the initial and final state.
	StateStopped State = iota
	// StateStarting means Start is binding sockets and launching loops.
	StateStarting
	// StateRunning means all loops are live.
	StateRunning
	// StateStopping means Stop is draining loops.
	StateStopping
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config controls the discovery subsystem.
type Config struct {
	// ListenAddr is the UDP bind address for node table and PEX
	// traffic. Defaults to an ephemeral port on all interfaces.
	ListenAddr string
	// Trackers are TCP tracker addresses to announce against.
	Trackers []string
	// TrackerKeys maps tracker addresses to their static Noise keys.
	// Announces to listed trackers run over an authenticated exchange.
	TrackerKeys map[string][]byte
	// BootstrapNodes are seed node UDP addresses.
	BootstrapNodes []string
	// StaticRelays join the relay set directly at startup.
	StaticRelays []RelayInfo
	// SelfAdvertisement, when set, is announced to trackers so other
	// clients can discover this node as a relay.
	SelfAdvertisement *RelayInfo
	// RelayTTL is how long an unseen relay stays active.
	RelayTTL time.Duration
	// SweepInterval is how often the TTL sweep runs.
	SweepInterval time.Duration
	// PexInterval is how often a PEX exchange is attempted.
	PexInterval time.Duration
	// BootstrapInterval is how often seeds are recontacted.
	BootstrapInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ListenAddr == "" {
		out.ListenAddr = ":0"
	}
	if out.RelayTTL <= 0 {
		out.RelayTTL = DefaultRelayTTL
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = time.Minute
	}
	if out.PexInterval <= 0 {
		out.PexInterval = 2 * time.Minute
	}
	if out.BootstrapInterval <= 0 {
		out.BootstrapInterval = 5 * time.Minute
	}
	return out
}

// Discovery runs relay discovery: the node table, tracker announces,
// peer exchange, bootstrap, and the TTL sweep.
type Discovery struct {
	cfg      Config
	selfHash crypto.IdentityHash

	state atomic.Uint32

	relays  *relaySet
	table   *Table
	tracker *trackerClient

	mu        sync.Mutex
	transport transport.Transport
	dht       *dhtService
	pex       *pexService
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	events chan Event
}

// New creates a stopped discovery subsystem for the given identity.
func New(cfg Config, selfHash crypto.IdentityHash) *Discovery {
	d := &Discovery{
		cfg:      cfg.withDefaults(),
		selfHash: selfHash,
		relays:   newRelaySet(),
		table:    NewTable(selfHash),
		events:   make(chan Event, 64),
	}
	d.tracker = newTrackerClient(selfHash, d.cfg.SelfAdvertisement, d.cfg.TrackerKeys, d.addRelay)
	return d
}

// State returns the current lifecycle state.
func (d *Discovery) State() State {
	return State(d.state.Load())
}

// Events returns the notification channel. Events are dropped, never
// blocked on, when the consumer falls behind.
func (d *Discovery) Events() <-chan Event {
	return d.events
}

// Start binds the UDP socket and launches the discovery loops.
// Idempotent: starting anything but a stopped instance is a no-op.
func (d *Discovery) Start(ctx context.Context) error {
	if !d.state.CompareAndSwap(uint32(StateStopped), uint32(StateStarting)) {
		return nil
	}

	tr, err := transport.NewUDPTransport(d.cfg.ListenAddr)
	if err != nil {
		d.state.Store(uint32(StateStopped))
		return fmt.Errorf("%w: discovery transport: %v", errs.ErrNetwork, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	d.transport = tr
	d.cancel = cancel
	d.dht = newDHTService(d.selfHash, d.table, d.relays, tr, d.addRelay)
	d.pex = newPEXService(d.relays, tr, d.addRelay)
	d.mu.Unlock()

	d.wg.Add(4)
	go d.announceLoop(loopCtx)
	go d.pexLoop(loopCtx)
	go d.bootstrapLoop(loopCtx)
	go d.sweepLoop(loopCtx)

	d.state.Store(uint32(StateRunning))
	d.emit(Event{Type: EventStarted})

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"addr":     tr.LocalAddr().String(),
		"trackers": len(d.cfg.Trackers),
		"seeds":    len(d.cfg.BootstrapNodes),
	}).Info("Relay discovery started")

	return nil
}

// Stop cancels the loops, waits for them to drain, and closes the
// socket. Idempotent.
func (d *Discovery) Stop() {
	if !d.state.CompareAndSwap(uint32(StateRunning), uint32(StateStopping)) {
		return
	}

	d.mu.Lock()
	cancel := d.cancel
	tr := d.transport
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	if tr != nil {
		_ = tr.Close()
	}

	d.state.Store(uint32(StateStopped))
	d.emit(Event{Type: EventStopped})

	logrus.WithField("function", "Stop").Info("Relay discovery stopped")
}

// AddDiscoveredRelay feeds an externally learned relay into the set.
func (d *Discovery) AddDiscoveredRelay(r *RelayInfo) {
	d.addRelay(r, "manual")
}

// ListActiveRelays returns copies of all live relays.
func (d *Discovery) ListActiveRelays() []*RelayInfo {
	return d.relays.active()
}

// PickRandomRelay returns one uniformly chosen live relay, or nil when
// none are known.
func (d *Discovery) PickRandomRelay() *RelayInfo {
	return d.relays.random()
}

// NodeCount reports the size of the node table.
func (d *Discovery) NodeCount() int {
	return d.table.Len()
}

// addRelay is the single funnel for every discovery source.
func (d *Discovery) addRelay(r *RelayInfo, source string) {
	if r.RelayHash == d.selfHash {
		return
	}
	if !d.relays.add(r) {
		return
	}
	metricRelaysDiscovered.WithLabelValues(source).Inc()
	metricActiveRelays.Set(float64(len(d.relays.active())))
	d.emit(Event{Type: EventRelayDiscovered, Relay: r.clone()})

	logrus.WithFields(logrus.Fields{
		"function": "addRelay",
		"relay":    r.Key(),
		"source":   source,
	}).Debug("Relay discovered")
}

func (d *Discovery) emit(e Event) {
	e.Timestamp = time.Now()
	select {
	case d.events <- e:
	default:
	}
}

func (d *Discovery) announceLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := defaultAnnounceInterval
	timer := time.NewTimer(time.Second)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		for _, addr := range d.cfg.Trackers {
			result, err := d.tracker.announce(ctx, addr)
			if err != nil {
				d.emit(Event{Type: EventError, Tracker: addr, Err: err})
				continue
			}
			if result.interval > 0 {
				interval = result.interval
			}
			d.emit(Event{
				Type:        EventTrackerResponse,
				Tracker:     addr,
				Relays:      result.relays,
				Interval:    result.interval,
				MinInterval: result.minInterval,
			})
		}
		timer.Reset(interval)
	}
}

func (d *Discovery) pexLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PexInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.exchangeWithSample()
		}
	}
}

// exchangeWithSample runs one PEX cycle: a bounded sample of active
// relays is contacted, and a relay that fails the exchange is marked
// inactive for later retry.
func (d *Discovery) exchangeWithSample() {
	for _, r := range d.relays.sample(pexSampleSize) {
		addr, err := net.ResolveUDPAddr("udp", r.Key())
		if err != nil {
			d.relays.markInactive(r.Key())
			continue
		}
		if err := d.pex.exchange(addr); err != nil {
			d.relays.markInactive(r.Key())
			logrus.WithFields(logrus.Fields{
				"function": "exchangeWithSample",
				"relay":    r.Key(),
				"error":    err,
			}).Debug("PEX exchange failed, relay marked inactive")
		}
	}
}

func (d *Discovery) bootstrapLoop(ctx context.Context) {
	defer d.wg.Done()

	d.bootstrapSeeds()

	ticker := time.NewTicker(d.cfg.BootstrapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.bootstrapSeeds()
			d.dht.refresh(d.cfg.BootstrapInterval)
		}
	}
}

func (d *Discovery) sweepLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := d.relays.sweep(d.cfg.RelayTTL)
			if len(expired) == 0 {
				continue
			}
			metricRelaysExpired.Add(float64(len(expired)))
			metricActiveRelays.Set(float64(len(d.relays.active())))
			for _, r := range expired {
				d.emit(Event{Type: EventRelayExpired, Relay: r})
			}
			d.emit(Event{Type: EventRelaysUpdated, Relays: d.relays.active()})

			logrus.WithFields(logrus.Fields{
				"function": "sweepLoop",
				"expired":  len(expired),
			}).Debug("Relay TTL sweep evicted relays")
		}
	}
}
