package discovery

import (
	"net"

	"github.com/sirupsen/logrus"
)

// bootstrapSeeds contacts each configured seed node, feeding the node
// table and asking for an initial relay list. Seeds that fail to
// resolve are skipped; the cycle repeats so flaky seeds get retried.
func (d *Discovery) bootstrapSeeds() {
	for _, seed := range d.cfg.BootstrapNodes {
		addr, err := net.ResolveUDPAddr("udp", seed)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "bootstrapSeeds",
				"seed":     seed,
				"error":    err,
			}).Warn("Bootstrap seed did not resolve")
			continue
		}
		if err := d.dht.ping(addr); err != nil {
			continue
		}
		_ = d.dht.findNode(addr, d.selfHash)
		_ = d.dht.getPeers(addr)
	}

	// Static relays configured alongside the seeds join directly.
	for _, r := range d.cfg.StaticRelays {
		relay := r
		d.addRelay(&relay, "bootstrap")
	}
}
