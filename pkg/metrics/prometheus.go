package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements Collector on a prometheus registry. A metric's label
// names are fixed by its first use.
type Prometheus struct {
	factory promauto.Factory

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus registers metrics on reg, or on the default registerer when reg is nil.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		factory:    promauto.With(reg),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *Prometheus) IncCounter(name string, labels map[string]string, delta float64) {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = p.factory.NewCounterVec(prometheus.CounterOpts{Name: name, Help: helpFor(name)}, labelNames(labels))
		p.counters[name] = vec
	}
	p.mu.Unlock()
	vec.With(labels).Add(delta)
}

func (p *Prometheus) SetGauge(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = p.factory.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: helpFor(name)}, labelNames(labels))
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	vec.With(labels).Set(value)
}

func (p *Prometheus) ObserveHistogram(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = p.factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: prometheus.DefBuckets,
		}, labelNames(labels))
		p.histograms[name] = vec
	}
	p.mu.Unlock()
	vec.With(labels).Observe(value)
}

// RegisterStoreSize exposes count as the StoredEntities gauge, sampled on every scrape.
func RegisterStoreSize(reg prometheus.Registerer, count func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: StoredEntities, Help: helpFor(StoredEntities)},
		func() float64 { return float64(count()) },
	))
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func helpFor(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "sgrouter_"), "_", " ")
}
