// Package metrics is the engine's metrics provider abstraction. The
// backend (prometheus, otel, noop) is selected via engine configuration;
// subsystems only see the Provider interface.
package metrics

import "context"

// Provider is the minimal metrics contract used by engine subsystems.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
	Health(ctx context.Context) error
}

type Counter interface{ Inc(delta float64, labels ...string) }

type Gauge interface {
	Set(v float64, labels ...string)
	Add(delta float64, labels ...string)
}

type Histogram interface{ Observe(v float64, labels ...string) }

type CommonOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Labels    []string
}

type CounterOpts struct{ CommonOpts }
type GaugeOpts struct{ CommonOpts }

type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

// Select returns the provider for a backend name. Unknown and empty
// backends fall back to prometheus.
func Select(backend string) Provider {
	switch backend {
	case "noop":
		return NewNoopProvider()
	case "otel", "opentelemetry":
		return NewOTelProvider()
	default:
		return NewPrometheusProvider(nil)
	}
}

// noop provider -----------------------------------------------------------

type noopProvider struct{}
type noopCounter struct{}
type noopGauge struct{}
type noopHistogram struct{}

func NewNoopProvider() Provider { return noopProvider{} }

func (noopProvider) NewCounter(CounterOpts) Counter       { return noopCounter{} }
func (noopProvider) NewGauge(GaugeOpts) Gauge             { return noopGauge{} }
func (noopProvider) NewHistogram(HistogramOpts) Histogram { return noopHistogram{} }
func (noopProvider) Health(context.Context) error         { return nil }

func (noopCounter) Inc(float64, ...string)       {}
func (noopGauge) Set(float64, ...string)         {}
func (noopGauge) Add(float64, ...string)         {}
func (noopHistogram) Observe(float64, ...string) {}
