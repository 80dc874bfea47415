package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/hkvtable/hkv"
)

// Adapter implements hkv.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	creates prometheus.Counter
	deletes prometheus.Counter
	evicts  *prometheus.CounterVec
	entries prometheus.Gauge
	slots   prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}
	a := &Adapter{
		hits:    counter("hits_total", "Lookups that leased an existing entry"),
		misses:  counter("misses_total", "Lookups that found no live entry"),
		creates: counter("creates_total", "Entries published"),
		deletes: counter("deletes_total", "Entries reclaimed"),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Entries evicted under pool pressure, by policy pass",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		entries: gauge("entries", "Number of published entries"),
		slots:   gauge("slots", "Number of pool slots in use"),
	}
	reg.MustRegister(a.hits, a.misses, a.creates, a.deletes, a.evicts, a.entries, a.slots)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

func (a *Adapter) Create() { a.creates.Inc() }

func (a *Adapter) Delete() { a.deletes.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r hkv.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Size updates gauges for published entries and slots in use.
func (a *Adapter) Size(entries int, slots int) {
	a.entries.Set(float64(entries))
	a.slots.Set(float64(slots))
}

// Compile-time check: ensure Adapter implements hkv.Metrics.
var _ hkv.Metrics = (*Adapter)(nil)
