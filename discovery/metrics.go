package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveRelays = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "shroud",
		Subsystem: "discovery",
		Name:      "active_relays",
		Help:      "Number of relays currently marked active.",
	})
	metricRelaysDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shroud",
		Subsystem: "discovery",
		Name:      "relays_discovered_total",
		Help:      "Relays added to the active set, by source.",
	}, []string{"source"})
	metricRelaysExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shroud",
		Subsystem: "discovery",
		Name:      "relays_expired_total",
		Help:      "Relays deactivated by the TTL sweep.",
	})
	metricAnnounceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shroud",
		Subsystem: "discovery",
		Name:      "tracker_announce_failures_total",
		Help:      "Tracker announces that failed.",
	})
	metricDHTRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shroud",
		Subsystem: "discovery",
		Name:      "dht_requests_total",
		Help:      "Node table requests handled, by packet type.",
	}, []string{"type"})
	metricDHTThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shroud",
		Subsystem: "discovery",
		Name:      "dht_requests_throttled_total",
		Help:      "Node table requests dropped by the rate limiter.",
	})
)
