// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FramesDropped counts inbound frames discarded without being scheduled,
// labeled by the reason (decrypt_failed, decode_failed).
var FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "worker_frames_dropped_total",
	Help: "Inbound request/control frames dropped before scheduling, by reason.",
}, []string{"reason"})

// EventsPublished counts events the publisher successfully sent.
var EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
	Name: "worker_events_published_total",
	Help: "Outbound events successfully published to the results channel.",
})

// EventsDropped counts events dropped for queue overflow or send failure.
var EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "worker_events_dropped_total",
	Help: "Outbound events dropped before or during publication.",
})

// RegistryOccupancy tracks the number of execution slots currently bound.
var RegistryOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "worker_registry_occupancy",
	Help: "Execution slots currently occupied.",
})

// RegistryCapacity reports the configured concurrency bound.
var RegistryCapacity = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "worker_registry_capacity",
	Help: "Configured maximum concurrent executions.",
})
