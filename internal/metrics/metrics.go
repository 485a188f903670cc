// Package metrics exposes controller counters for Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/smart-watering/internal/mqtt"
)

const namespace = "pump_controller"

// Result label values.
const (
	ResultOK          = "ok"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
	ResultMalformed   = "malformed"
	ResultStart       = "start"
	ResultNoOp        = "noop"
	ResultDiscarded   = "discarded"
	ResultDropped     = "dropped"
)

// Metrics holds the controller's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	commands    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	oracle      *prometheus.CounterVec
	sensors     *prometheus.CounterVec
	pumpRunning prometheus.Gauge
}

// New creates and registers every collector, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_published_total",
			Help:      "Command frames handed to the broker, by control and result.",
		}, []string{"control", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Applied pump state machine transitions, by kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_rejected_total",
			Help:      "Rejected transition requests, by reason.",
		}, []string{"reason"}),
		oracle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Decision oracle calls, by outcome.",
		}, []string{"result"}),
		sensors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_messages_total",
			Help:      "Inbound sensor payloads, by result.",
		}, []string{"result"}),
		pumpRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pump_running",
			Help:      "1 while the controller believes the pump is on.",
		}),
	}

	m.registry.MustRegister(
		m.commands, m.transitions, m.rejected, m.oracle, m.sensors, m.pumpRunning,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CommandPublished counts a publish attempt for control.
func (m *Metrics) CommandPublished(control string, err error) {
	result := ResultOK
	switch {
	case err == nil:
	case errors.Is(err, mqtt.ErrChannelUnavailable):
		result = ResultUnavailable
	default:
		result = ResultError
	}
	m.commands.WithLabelValues(control, result).Inc()
}

// Transition counts an applied transition.
func (m *Metrics) Transition(kind string) {
	m.transitions.WithLabelValues(kind).Inc()
}

// Rejected counts a rejected request.
func (m *Metrics) Rejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// OracleCall counts an oracle outcome (ResultStart, ResultNoOp, ResultDiscarded or ResultUnavailable).
func (m *Metrics) OracleCall(result string) {
	m.oracle.WithLabelValues(result).Inc()
}

// SensorMessage counts an inbound payload.
func (m *Metrics) SensorMessage(ok bool) {
	result := ResultOK
	if !ok {
		result = ResultMalformed
	}
	m.sensors.WithLabelValues(result).Inc()
}

// SensorDropped counts a payload dropped because the controller queue was full.
func (m *Metrics) SensorDropped() {
	m.sensors.WithLabelValues(ResultDropped).Inc()
}

// SetPumpRunning sets the pump gauge.
func (m *Metrics) SetPumpRunning(on bool) {
	if on {
		m.pumpRunning.Set(1)
	} else {
		m.pumpRunning.Set(0)
	}
}
