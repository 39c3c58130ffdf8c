// Package metrics exposes hub activity as prometheus collectors.
package metrics

import (
	"errors"
	"net/http"

	"sensorhub/internal/loader"
	"sensorhub/pkg/component"
	"sensorhub/pkg/plugin"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub collectors.
type Metrics struct {
	registry *prometheus.Registry

	deliveries       *prometheus.CounterVec
	receiverFailures *prometheus.CounterVec
	verdicts         *prometheus.CounterVec
	loads            *prometheus.CounterVec
	devicesRunning   prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorhub_deliveries_total",
			Help: "Sensor readings delivered to receivers.",
		}, []string{"sensor", "receiver"}),
		receiverFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorhub_receiver_failures_total",
			Help: "Receiver updates that returned an error or panicked.",
		}, []string{"receiver"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorhub_artifact_verdicts_total",
			Help: "Plugin artifact admission verdicts.",
		}, []string{"verdict"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorhub_component_loads_total",
			Help: "Component load attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		devicesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensorhub_devices_running",
			Help: "Devices whose run loop is active.",
		}),
	}
	m.registry.MustRegister(m.deliveries, m.receiverFailures, m.verdicts, m.loads, m.devicesRunning)
	return m
}

// Registry returns the registry holding the hub collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collectors in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDelivery records one NotifyAll delivery attempt. It has the
// component.NotifyHook signature.
func (m *Metrics) ObserveDelivery(s *component.Sensor, r component.Receiver, err error) {
	if err != nil {
		m.receiverFailures.WithLabelValues(r.Name()).Inc()
		return
	}
	m.deliveries.WithLabelValues(s.Name(), r.Name()).Inc()
}

// ObserveVerdict records an artifact admission verdict. It has the
// trust.VerdictHook signature.
func (m *Metrics) ObserveVerdict(path string, err error) {
	if err != nil {
		m.verdicts.WithLabelValues("rejected").Inc()
		return
	}
	m.verdicts.WithLabelValues("admitted").Inc()
}

// ObserveLoad records a component load outcome. It has the
// loader.LoadHook signature.
func (m *Metrics) ObserveLoad(kind plugin.Kind, typeName string, res *loader.Resolution, err error) {
	m.loads.WithLabelValues(kind.String(), outcome(err)).Inc()
}

// DeviceStarted and DeviceStopped track running device loops.
func (m *Metrics) DeviceStarted() { m.devicesRunning.Inc() }

func (m *Metrics) DeviceStopped() { m.devicesRunning.Dec() }

// InstrumentDevices installs ObserveDelivery on every sensor of devices.
func (m *Metrics) InstrumentDevices(devices []component.Device) {
	for _, d := range devices {
		for _, s := range d.Sensors() {
			s.SetNotifyHook(m.ObserveDelivery)
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, loader.ErrPluginNotFound):
		return "not_found"
	case errors.Is(err, loader.ErrCapabilityMismatch):
		return "capability_mismatch"
	case errors.Is(err, loader.ErrContractViolation):
		return "contract_violation"
	case errors.Is(err, loader.ErrConstructionFailed):
		return "construction_failed"
	default:
		return "error"
	}
}
