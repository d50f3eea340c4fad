package metrics

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// otelProvider bridges the Provider interface onto an OTEL MeterProvider.
// Gauges are emulated with UpDownCounters (Set applies the delta from the
// last observed value per label combination).
type otelProvider struct {
	mp    *sdkmetric.MeterProvider
	meter metric.Meter
}

// NewOTelProvider returns a zero-config OTEL-backed provider. Exporters
// and resource attribution are the embedder's business.
func NewOTelProvider() Provider {
	mp := sdkmetric.NewMeterProvider()
	return &otelProvider{mp: mp, meter: mp.Meter("arachne")}
}

func otelName(c CommonOpts) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{c.Namespace, c.Subsystem, c.Name} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

func attrs(keys, values []string) []attribute.KeyValue {
	n := len(keys)
	if len(values) < n {
		n = len(values)
	}
	out := make([]attribute.KeyValue, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, attribute.String(keys[i], values[i]))
	}
	return out
}

func (p *otelProvider) NewCounter(opts CounterOpts) Counter {
	inst, err := p.meter.Float64Counter(otelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return &otelCounter{c: inst, keys: opts.Labels}
}

func (p *otelProvider) NewGauge(opts GaugeOpts) Gauge {
	inst, err := p.meter.Float64UpDownCounter(otelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return &otelGauge{g: inst, keys: opts.Labels, last: make(map[string]float64)}
}

func (p *otelProvider) NewHistogram(opts HistogramOpts) Histogram {
	inst, err := p.meter.Float64Histogram(otelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopHistogram{}
	}
	return &otelHistogram{h: inst, keys: opts.Labels}
}

func (p *otelProvider) Health(ctx context.Context) error { return nil }

type otelCounter struct {
	c    metric.Float64Counter
	keys []string
}

func (c *otelCounter) Inc(delta float64, labels ...string) {
	if delta <= 0 {
		return
	}
	c.c.Add(context.Background(), delta, metric.WithAttributes(attrs(c.keys, labels)...))
}

type otelGauge struct {
	g    metric.Float64UpDownCounter
	keys []string

	mu   sync.Mutex
	last map[string]float64
}

func (g *otelGauge) Set(v float64, labels ...string) {
	key := strings.Join(labels, "\x00")
	g.mu.Lock()
	delta := v - g.last[key]
	g.last[key] = v
	g.mu.Unlock()
	g.g.Add(context.Background(), delta, metric.WithAttributes(attrs(g.keys, labels)...))
}

func (g *otelGauge) Add(delta float64, labels ...string) {
	key := strings.Join(labels, "\x00")
	g.mu.Lock()
	g.last[key] += delta
	g.mu.Unlock()
	g.g.Add(context.Background(), delta, metric.WithAttributes(attrs(g.keys, labels)...))
}

type otelHistogram struct {
	h    metric.Float64Histogram
	keys []string
}

func (h *otelHistogram) Observe(v float64, labels ...string) {
	h.h.Record(context.Background(), v, metric.WithAttributes(attrs(h.keys, labels)...))
}
