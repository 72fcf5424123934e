package discovery

import "time"

// EventType classifies a discovery event.
type EventType uint8

const (
	// EventStarted fires once discovery is running.
	EventStarted EventType = iota
	// EventStopped fires after discovery has shut down.
	EventStopped
	// EventRelayDiscovered fires when a new or revived relay enters
	// the active set.
	EventRelayDiscovered
	// EventRelayExpired fires when the TTL sweep evicts a relay.
	EventRelayExpired
	// EventRelaysUpdated fires after a batch change to the relay set.
	EventRelaysUpdated
	// EventTrackerResponse fires after a successful tracker announce.
	EventTrackerResponse
	// EventError reports a non-fatal discovery failure.
	EventError
)

// String returns a human-readable event name.
func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventRelayDiscovered:
		return "relay_discovered"
	case EventRelayExpired:
		return "relay_expired"
	case EventRelaysUpdated:
		return "relays_updated"
	case EventTrackerResponse:
		return "tracker_response"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a discovery notification delivered on the Events channel.
// Fields beyond Type and Timestamp are set per event type.
type Event struct {
	Type        EventType
	Relay       *RelayInfo
	Relays      []*RelayInfo
	Tracker     string
	Interval    time.Duration
	MinInterval time.Duration
	Err         error
	Timestamp   time.Time
}
