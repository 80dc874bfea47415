// Package vm exports table metrics through github.com/VictoriaMetrics/metrics.
package vm

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"

	"github.com/IvanBrykalov/hkvtable/hkv"
)

// Adapter implements hkv.Metrics on top of a metrics.Set. Entry and slot
// gauges are callback gauges reading the last reported size.
type Adapter struct {
	set *metrics.Set

	hits, misses     *metrics.Counter
	creates, deletes *metrics.Counter
	evictPreferred   *metrics.Counter
	evictFallback    *metrics.Counter

	entries atomic.Int64
	slots   atomic.Int64
}

// New registers the table's metrics in set (a fresh set when nil).
// Metric names are prefix + "_" + name, labelled with table="<table>".
func New(set *metrics.Set, prefix, table string) *Adapter {
	if set == nil {
		set = metrics.NewSet()
	}
	name := func(metric string, extra ...string) string {
		labels := fmt.Sprintf("table=%q", table)
		for i := 0; i+1 < len(extra); i += 2 {
			labels += fmt.Sprintf(",%s=%q", extra[i], extra[i+1])
		}
		return fmt.Sprintf("%s_%s{%s}", prefix, metric, labels)
	}

	a := &Adapter{set: set}
	a.hits = set.NewCounter(name("hits_total"))
	a.misses = set.NewCounter(name("misses_total"))
	a.creates = set.NewCounter(name("creates_total"))
	a.deletes = set.NewCounter(name("deletes_total"))
	a.evictPreferred = set.NewCounter(name("evictions_total", "reason", hkv.EvictPreferred.String()))
	a.evictFallback = set.NewCounter(name("evictions_total", "reason", hkv.EvictFallback.String()))
	set.NewGauge(name("entries"), func() float64 { return float64(a.entries.Load()) })
	set.NewGauge(name("slots"), func() float64 { return float64(a.slots.Load()) })
	return a
}

// Set returns the metrics set the adapter writes to.
func (a *Adapter) Set() *metrics.Set { return a.set }

// WritePrometheus writes the adapter's metrics in Prometheus text format.
func (a *Adapter) WritePrometheus(w io.Writer) { a.set.WritePrometheus(w) }

func (a *Adapter) Hit()    { a.hits.Inc() }
func (a *Adapter) Miss()   { a.misses.Inc() }
func (a *Adapter) Create() { a.creates.Inc() }
func (a *Adapter) Delete() { a.deletes.Inc() }

func (a *Adapter) Evict(r hkv.EvictReason) {
	if r == hkv.EvictFallback {
		a.evictFallback.Inc()
		return
	}
	a.evictPreferred.Inc()
}

func (a *Adapter) Size(entries int, slots int) {
	a.entries.Store(int64(entries))
	a.slots.Store(int64(slots))
}

var _ hkv.Metrics = (*Adapter)(nil)
