// Package metrics exposes the host's planning and streaming counters on a
// dedicated Prometheus registry, served by pkg/monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all host metrics. A dedicated registry keeps the scrape
// surface free of Go runtime collectors the embedding front end may not
// want.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// LayersSliced counts layers produced by the slicer.
	LayersSliced = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "crft",
		Subsystem: "planner",
		Name:      "layers_sliced_total",
		Help:      "Layers produced by slicing runs.",
	})

	// CommandsSent counts framed commands written to the device.
	CommandsSent = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "crft",
		Subsystem: "stream",
		Name:      "commands_sent_total",
		Help:      "Framed commands written to the serial channel.",
	})

	// AcksReceived counts positive acknowledgments.
	AcksReceived = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "crft",
		Subsystem: "stream",
		Name:      "acks_received_total",
		Help:      "Positive acknowledgments received from the device.",
	})

	// ResendsRequested counts device resend requests.
	ResendsRequested = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "crft",
		Subsystem: "stream",
		Name:      "resends_requested_total",
		Help:      "Resend requests received from the device.",
	})

	// AckTimeouts counts acknowledgment waits that hit their bound.
	AckTimeouts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "crft",
		Subsystem: "stream",
		Name:      "ack_timeouts_total",
		Help:      "Acknowledgment waits that exceeded their bound.",
	})

	// WindowInFlight tracks the current number of unacknowledged framed
	// commands.
	WindowInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "crft",
		Subsystem: "stream",
		Name:      "window_in_flight",
		Help:      "Framed commands currently awaiting acknowledgment.",
	})
)
