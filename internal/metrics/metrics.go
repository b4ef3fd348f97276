// Package metrics wires obscore's domain counters onto the generic
// Prometheus collector (pkg/monitoring.MetricsCollector), the way
// cmd/signalman wires its own business metrics on top of the same
// collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"obscore/pkg/monitoring"
)

// imageEncodeBuckets spans the expected range of synced image sizes
// (§5's "hundreds of kilobytes" note) rather than the generic HTTP-sized
// default buckets.
var imageEncodeBuckets = []float64{
	1 << 10, 8 << 10, 32 << 10, 128 << 10, 512 << 10, 1 << 20, 4 << 20,
}

// Registry bundles obscore's domain Prometheus vectors. NewRegistry
// registers them, so they are exposed at /metrics; no engine in this module
// sets or observes them.
type Registry struct {
	ConnectedSlaves  prometheus.Gauge
	ImageEncodeBytes prometheus.Observer
	MessagesEmitted  *prometheus.CounterVec
}

// NewRegistry registers obscore's domain metrics on mc.
func NewRegistry(mc *monitoring.MetricsCollector) *Registry {
	connected := mc.NewGauge("connected_slaves", "Number of slaves currently connected to the master", nil)
	imageBytes := mc.NewHistogram("image_encode_bytes", "Size in bytes of images base64-encoded for replication", nil, imageEncodeBuckets)
	emitted := mc.NewCounter("messages_emitted_total", "Protocol envelopes emitted by the master sync engine", []string{"message_type"})

	return &Registry{
		ConnectedSlaves:  connected.WithLabelValues(),
		ImageEncodeBytes: imageBytes.WithLabelValues(),
		MessagesEmitted:  emitted,
	}
}
