// Package metrics provides Prometheus metrics for a ringstore node.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all ringstore metrics.
var Registry = prometheus.NewRegistry()

// NodeMetrics holds the ring, cache and routing metrics of one node.
type NodeMetrics struct {
	// Ring gauges
	RingCapacity  prometheus.Gauge
	RingNodes     prometheus.Gauge
	RingDownNodes prometheus.Gauge

	// Cache counters are fed as deltas by the Collector
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheEntries   prometheus.Gauge
	CacheMaxSize   prometheus.Gauge
	CachePuts      prometheus.Gauge // net puts, drops on trim

	// Requests routed through the ring, by owning node
	RoutedRequests *prometheus.CounterVec // labels: owner
	Unroutable     prometheus.Counter

	NodeInfo *prometheus.GaugeVec // labels: node, version
}

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// InitMetrics registers the node metrics on Registry with nodeID as a
// constant label.
func InitMetrics(nodeID, version string) *NodeMetrics {
	return NewNodeMetrics(Registry, nodeID, version)
}

// NewNodeMetrics registers the node metrics on reg.
func NewNodeMetrics(reg prometheus.Registerer, nodeID, version string) *NodeMetrics {
	constLabels := prometheus.Labels{
		"node": nodeID,
	}
	factory := promauto.With(reg)

	m := &NodeMetrics{
		RingCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ringstore_ring_capacity",
			Help:        "Number of slots in the hash ring",
			ConstLabels: constLabels,
		}),
		RingNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ringstore_ring_nodes",
			Help:        "Number of nodes registered on the ring, down nodes included",
			ConstLabels: constLabels,
		}),
		RingDownNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ringstore_ring_down_nodes",
			Help:        "Number of registered nodes marked down",
			ConstLabels: constLabels,
		}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name:        "ringstore_cache_hits_total",
			Help:        "Download cache hits",
			ConstLabels: constLabels,
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name:        "ringstore_cache_misses_total",
			Help:        "Download cache misses",
			ConstLabels: constLabels,
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name:        "ringstore_cache_evictions_total",
			Help:        "Entries evicted by cache trims",
			ConstLabels: constLabels,
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ringstore_cache_entries",
			Help:        "Entries currently cached",
			ConstLabels: constLabels,
		}),
		CacheMaxSize: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ringstore_cache_max_entries",
			Help:        "Cache capacity in entries",
			ConstLabels: constLabels,
		}),
		CachePuts: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ringstore_cache_puts",
			Help:        "Insertions minus trimmed entries",
			ConstLabels: constLabels,
		}),

		RoutedRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "ringstore_routed_requests_total",
			Help:        "Requests routed through the ring by owning node",
			ConstLabels: constLabels,
		}, []string{"owner"}),
		Unroutable: factory.NewCounter(prometheus.CounterOpts{
			Name:        "ringstore_unroutable_requests_total",
			Help:        "Requests refused because no live node owns the key",
			ConstLabels: constLabels,
		}),

		NodeInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ringstore_node_info",
			Help: "Node information (value is always 1)",
		}, []string{"node", "version"}),
	}

	m.NodeInfo.WithLabelValues(nodeID, version).Set(1)
	return m
}

// RecordRoute counts a request served by owner. An empty owner counts as
// unroutable. Nil receivers are ignored.
func (m *NodeMetrics) RecordRoute(owner string) {
	if m == nil {
		return
	}
	if owner == "" {
		m.Unroutable.Inc()
		return
	}
	m.RoutedRequests.WithLabelValues(owner).Inc()
}

// Handler serves everything gathered by Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
