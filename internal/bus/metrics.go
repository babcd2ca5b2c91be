package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hackgrid",
		Subsystem: "bus",
		Name:      "connected_clients",
		Help:      "Authenticated WebSocket connections.",
	})
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hackgrid",
		Subsystem: "bus",
		Name:      "events_published_total",
		Help:      "Events handed to the hub, by frame type.",
	}, []string{"type"})
	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hackgrid",
		Subsystem: "bus",
		Name:      "events_dropped_total",
		Help:      "Non-critical events dropped under backpressure.",
	})
	unknownFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hackgrid",
		Subsystem: "bus",
		Name:      "unknown_client_frames_total",
		Help:      "Client frames with an unrecognised type.",
	})
)
