// Package discovery finds and maintains the set of relays a client can
// route traffic through. It combines four sources the way swarm
// protocols do: a node table over UDP for locating peers by hash
// distance, tracker announces over TCP, peer exchange with already
// known relays, and a static bootstrap list. Discovered relays age out
// on a TTL sweep.
package discovery

import (
	"crypto/rand"
	"math/big"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/shroud/crypto"
)

// DefaultRelayTTL is how long a relay stays active without being seen.
const DefaultRelayTTL = time.Hour

// RelayInfo describes one relay endpoint.
type RelayInfo struct {
	Host         string              `json:"host"`
	Port         uint16              `json:"port"`
	PublicKey    []byte              `json:"public_key,omitempty"`
	RelayHash    crypto.IdentityHash `json:"relay_hash"`
	Capabilities []string            `json:"capabilities,omitempty"`
	IsActive     bool                `json:"is_active"`
	LastSeenAt   time.Time           `json:"last_seen_at"`
}

// Key returns the host:port endpoint string that identifies the relay.
func (r *RelayInfo) Key() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

func (r *RelayInfo) clone() *RelayInfo {
	out := *r
	out.PublicKey = append([]byte(nil), r.PublicKey...)
	out.Capabilities = append([]string(nil), r.Capabilities...)
	return &out
}

// relaySet is the mutex-guarded relay table. Relays are keyed by
// endpoint; re-adding a known relay refreshes its liveness instead of
// duplicating it.
type relaySet struct {
	mu     sync.RWMutex
	relays map[string]*RelayInfo
}

func newRelaySet() *relaySet {
	return &relaySet{relays: make(map[string]*RelayInfo)}
}

// add inserts or refreshes a relay. Returns true when the relay was
// not previously known or was inactive.
func (s *relaySet) add(r *RelayInfo) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, known := s.relays[r.Key()]
	if known {
		wasInactive := !existing.IsActive
		existing.IsActive = true
		existing.LastSeenAt = now
		if len(r.PublicKey) > 0 {
			existing.PublicKey = append([]byte(nil), r.PublicKey...)
		}
		if len(r.Capabilities) > 0 {
			existing.Capabilities = append([]string(nil), r.Capabilities...)
		}
		return wasInactive
	}

	stored := r.clone()
	stored.IsActive = true
	stored.LastSeenAt = now
	s.relays[stored.Key()] = stored
	return true
}

// markInactive deactivates a relay after a failed exchange. The entry
// is retained so a later sweep or re-discovery can retry it. Returns
// false for unknown relays.
func (s *relaySet) markInactive(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, known := s.relays[key]
	if !known {
		return false
	}
	r.IsActive = false
	return true
}

// sweep evicts relays unseen for longer than the TTL and returns
// copies of the ones evicted on this pass. Relays deactivated by a
// failed exchange are retained for retry until a second TTL passes
// without contact.
func (s *relaySet) sweep(ttl time.Duration) []*RelayInfo {
	now := time.Now()
	cutoff := now.Add(-ttl)
	retryCutoff := now.Add(-2 * ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*RelayInfo
	for key, r := range s.relays {
		if r.IsActive && r.LastSeenAt.Before(cutoff) {
			expired = append(expired, r.clone())
			delete(s.relays, key)
			continue
		}
		if !r.IsActive && r.LastSeenAt.Before(retryCutoff) {
			delete(s.relays, key)
		}
	}
	return expired
}

// active returns copies of all live relays.
func (s *relaySet) active() []*RelayInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*RelayInfo
	for _, r := range s.relays {
		if r.IsActive {
			out = append(out, r.clone())
		}
	}
	return out
}

// random returns a copy of one uniformly chosen live relay, or nil
// when none are live.
func (s *relaySet) random() *RelayInfo {
	live := s.active()
	if len(live) == 0 {
		return nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(live))))
	if err != nil {
		return live[0]
	}
	return live[n.Int64()]
}

// sample returns up to n distinct live relays.
func (s *relaySet) sample(n int) []*RelayInfo {
	live := s.active()
	if len(live) <= n {
		return live
	}
	// Partial Fisher-Yates over the copied slice.
	for i := 0; i < n; i++ {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(len(live)-i)))
		if err != nil {
			break
		}
		k := i + int(j.Int64())
		live[i], live[k] = live[k], live[i]
	}
	return live[:n]
}

func (s *relaySet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.relays)
}
