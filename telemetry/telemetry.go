package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures bus and connector activity.
//
// Hooks run inline with registration, binding and the control surface, so
// implementations must be cheap and must not call back into the bus.
type Collector interface {
	SetDevices(n int)
	SetLeases(n int)
	IncProbe(driver, result string)
	IncControl(op, outcome string)
	IncInitAttempt(outcome string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) SetDevices(int)            {}
func (noopCollector) SetLeases(int)             {}
func (noopCollector) IncProbe(string, string)   {}
func (noopCollector) IncControl(string, string) {}
func (noopCollector) IncInitAttempt(string)     {}

// PrometheusCollector exposes bus activity via Prometheus.
type PrometheusCollector struct {
	devices      prometheus.Gauge
	leases       prometheus.Gauge
	probes       *prometheus.CounterVec
	control      *prometheus.CounterVec
	initAttempts *prometheus.CounterVec
}

// NewPrometheusCollector registers the metrics with reg. Registering twice
// against the same registerer reuses the existing collectors.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &PrometheusCollector{}
	var err error

	if c.devices, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lscon_devices",
		Help: "Mezzanine devices currently registered on the connector bus.",
	})); err != nil {
		return nil, err
	}
	if c.leases, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lscon_line_leases",
		Help: "Signal-line leases currently held by mezzanine drivers.",
	})); err != nil {
		return nil, err
	}
	if c.probes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lscon_probe_total",
		Help: "Driver probe attempts by driver and result.",
	}, []string{"driver", "result"})); err != nil {
		return nil, err
	}
	if c.control, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lscon_control_total",
		Help: "Control surface operations by operation and outcome.",
	}, []string{"op", "outcome"})); err != nil {
		return nil, err
	}
	if c.initAttempts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lscon_init_attempts_total",
		Help: "Connector initialization attempts by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (c *PrometheusCollector) SetDevices(n int) { c.devices.Set(float64(n)) }
func (c *PrometheusCollector) SetLeases(n int)  { c.leases.Set(float64(n)) }

func (c *PrometheusCollector) IncProbe(driver, result string) {
	c.probes.WithLabelValues(driver, result).Inc()
}

func (c *PrometheusCollector) IncControl(op, outcome string) {
	c.control.WithLabelValues(op, outcome).Inc()
}

func (c *PrometheusCollector) IncInitAttempt(outcome string) {
	c.initAttempts.WithLabelValues(outcome).Inc()
}
