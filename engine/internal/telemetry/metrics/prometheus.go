package metrics

import (
	"context"
	"net/http"
	"strings"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements Provider over a dedicated registry.
type PrometheusProvider struct {
	reg        *prom.Registry
	mu         sync.Mutex
	counters   map[string]*prom.CounterVec
	gauges     map[string]*prom.GaugeVec
	histograms map[string]*prom.HistogramVec
	handler    http.Handler
}

// NewPrometheusProvider builds a provider; a nil registry allocates a
// fresh one.
func NewPrometheusProvider(reg *prom.Registry) *PrometheusProvider {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return &PrometheusProvider{
		reg:        reg,
		counters:   make(map[string]*prom.CounterVec),
		gauges:     make(map[string]*prom.GaugeVec),
		histograms: make(map[string]*prom.HistogramVec),
		handler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

// MetricsHandler exposes the registry for /metrics.
func (p *PrometheusProvider) MetricsHandler() http.Handler { return p.handler }

func fqName(c CommonOpts) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{c.Namespace, c.Subsystem, c.Name} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "_")
}

func (p *PrometheusProvider) NewCounter(opts CounterOpts) Counter {
	fq := fqName(opts.CommonOpts)
	if fq == "" {
		return noopCounter{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.counters[fq]
	if !ok {
		vec = prom.NewCounterVec(prom.CounterOpts{Name: fq, Help: opts.Help}, opts.Labels)
		if err := p.reg.Register(vec); err != nil {
			if are, isDup := err.(prom.AlreadyRegisteredError); isDup {
				vec = are.ExistingCollector.(*prom.CounterVec)
			} else {
				return noopCounter{}
			}
		}
		p.counters[fq] = vec
	}
	return promCounter{vec: vec}
}

func (p *PrometheusProvider) NewGauge(opts GaugeOpts) Gauge {
	fq := fqName(opts.CommonOpts)
	if fq == "" {
		return noopGauge{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.gauges[fq]
	if !ok {
		vec = prom.NewGaugeVec(prom.GaugeOpts{Name: fq, Help: opts.Help}, opts.Labels)
		if err := p.reg.Register(vec); err != nil {
			if are, isDup := err.(prom.AlreadyRegisteredError); isDup {
				vec = are.ExistingCollector.(*prom.GaugeVec)
			} else {
				return noopGauge{}
			}
		}
		p.gauges[fq] = vec
	}
	return promGauge{vec: vec}
}

func (p *PrometheusProvider) NewHistogram(opts HistogramOpts) Histogram {
	fq := fqName(opts.CommonOpts)
	if fq == "" {
		return noopHistogram{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.histograms[fq]
	if !ok {
		buckets := opts.Buckets
		if len(buckets) == 0 {
			buckets = prom.DefBuckets
		}
		vec = prom.NewHistogramVec(prom.HistogramOpts{Name: fq, Help: opts.Help, Buckets: buckets}, opts.Labels)
		if err := p.reg.Register(vec); err != nil {
			if are, isDup := err.(prom.AlreadyRegisteredError); isDup {
				vec = are.ExistingCollector.(*prom.HistogramVec)
			} else {
				return noopHistogram{}
			}
		}
		p.histograms[fq] = vec
	}
	return promHistogram{vec: vec}
}

func (p *PrometheusProvider) Health(ctx context.Context) error { return nil }

type promCounter struct{ vec *prom.CounterVec }
type promGauge struct{ vec *prom.GaugeVec }
type promHistogram struct{ vec *prom.HistogramVec }

func (c promCounter) Inc(delta float64, labels ...string) {
	if delta <= 0 {
		return
	}
	c.vec.WithLabelValues(labels...).Add(delta)
}

func (g promGauge) Set(v float64, labels ...string) { g.vec.WithLabelValues(labels...).Set(v) }
func (g promGauge) Add(delta float64, labels ...string) {
	g.vec.WithLabelValues(labels...).Add(delta)
}

func (h promHistogram) Observe(v float64, labels ...string) {
	h.vec.WithLabelValues(labels...).Observe(v)
}
