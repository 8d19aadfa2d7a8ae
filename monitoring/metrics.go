// Package monitoring exposes the live state of the control loop over HTTP:
// Prometheus metrics plus a small JSON API.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
)

const namespace = "speedctl"

// Metrics holds the controller and transport collectors
type Metrics struct {
	registry *prometheus.Registry

	measuredSpeed prometheus.Gauge
	targetSpeed   prometheus.Gauge
	command       prometheus.Gauge
	integral      prometheus.Gauge
	dt            prometheus.Gauge

	updates    prometheus.Counter
	saturated  prometheus.Counter
	antiWindup prometheus.Counter
	dtFallback prometheus.Counter

	frames   *prometheus.CounterVec
	rxErrors prometheus.Counter
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	m := &Metrics{
		registry:      prometheus.NewRegistry(),
		measuredSpeed: gauge("measured_speed_kph", "Last measured vehicle speed."),
		targetSpeed:   gauge("target_speed_kph", "Speed the controller drives toward."),
		command:       gauge("accel_command_normalized", "Last normalized acceleration command in [-1, 1]."),
		integral:      gauge("integral", "Integrator state after anti-windup."),
		dt:            gauge("timestep_seconds", "Timestep used by the last update."),
		updates:       counter("updates_total", "Controller updates."),
		saturated:     counter("saturated_updates_total", "Updates whose command hit the acceleration limit."),
		antiWindup:    counter("anti_windup_total", "Updates where the integral contribution was undone."),
		dtFallback:    counter("timestep_fallback_total", "Updates that substituted the default timestep."),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "can_frames_total",
			Help:      "CAN frames handled by direction.",
		}, []string{"direction"}),
		rxErrors: counter("can_rx_errors_total", "CAN receive or decode errors."),
	}

	m.registry.MustRegister(
		m.measuredSpeed, m.targetSpeed, m.command, m.integral, m.dt,
		m.updates, m.saturated, m.antiWindup, m.dtFallback,
		m.frames, m.rxErrors,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry backing /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveUpdate records the outcome of one controller update
func (m *Metrics) ObserveUpdate(measuredKph, targetKph float64, d control.Diagnostics) {
	m.measuredSpeed.Set(measuredKph)
	m.targetSpeed.Set(targetKph)
	m.command.Set(d.Command)
	m.integral.Set(d.Integral)
	m.dt.Set(d.Dt)

	m.updates.Inc()
	if d.Command == 1 || d.Command == -1 {
		m.saturated.Inc()
	}
	if d.AntiWindup {
		m.antiWindup.Inc()
	}
	if d.DtFallback {
		m.dtFallback.Inc()
	}
}

func (m *Metrics) FrameReceived() { m.frames.WithLabelValues("rx").Inc() }
func (m *Metrics) FrameSent()     { m.frames.WithLabelValues("tx").Inc() }
func (m *Metrics) RXError()       { m.rxErrors.Inc() }
