package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/signal-controller/internal/model"
)

// Client is the subset of the statsd client the controller emits through.
type Client interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Incr(name string, tags []string, rate float64) error
}

// Metrics emits controller metrics. A nil *Metrics or one without a client is a no-op.
type Metrics struct {
	client  Client
	verbose bool
}

func InitMetrics(addr, namespace string, tags []string, enabled bool) *Metrics {
	if !enabled {
		log.Info().Msg("Datadog metrics disabled")
		return nil
	}

	dogstatsd, err := statsd.New(addr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return nil
	}
	dogstatsd.Namespace = namespace
	dogstatsd.Tags = tags

	log.Info().
		Str("addr", addr).
		Str("namespace", namespace).
		Strs("tags", tags).
		Msg("Datadog metrics initialized")
	return &Metrics{client: dogstatsd, verbose: true}
}

func NewWithClient(c Client) *Metrics {
	return &Metrics{client: c}
}

func (m *Metrics) Gauge(name string, value float64, tags ...string) {
	if m == nil || m.client == nil {
		return
	}
	if err := m.client.Gauge(name, value, tags, 1); err != nil && m.verbose {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (m *Metrics) Incr(name string, tags ...string) {
	if m == nil || m.client == nil {
		return
	}
	if err := m.client.Incr(name, tags, 1); err != nil && m.verbose {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit counter metric")
	}
}

// OutputState reports each output as a 0/1 gauge.
func (m *Metrics) OutputState(s model.ActuatorState) {
	m.Gauge("output.green", boolToFloat(s.Green))
	m.Gauge("output.red", boolToFloat(s.Red))
	m.Gauge("output.sound", boolToFloat(s.Sound))
}

func (m *Metrics) CommandOutcome(o model.Outcome) {
	m.Incr("commands." + string(o))
}

// Connectivity reports the state as 0 disconnected, 1 connecting, 2 connected.
func (m *Metrics) Connectivity(s model.ConnectivityState) {
	var v float64
	switch s {
	case model.Connecting:
		v = 1
	case model.Connected:
		v = 2
	}
	m.Gauge("connectivity.state", v)
	if s == model.Connecting {
		m.Incr("connectivity.attempts")
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
