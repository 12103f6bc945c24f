// Package prom exports cache item decisions as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stampede-cache/stampede/internal/cache"
)

// Adapter implements cache.Metrics with Prometheus counters and a histogram
// of lock wait attempts. Safe for concurrent use.
type Adapter struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	staleServed prometheus.Counter
	lockWaits   prometheus.Histogram
	timeouts    prometheus.Counter
}

// New constructs an adapter and registers its collectors.
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
	a := &Adapter{
		hits:        counter("hits_total", "Item lookups answered from storage"),
		misses:      counter("regenerations_total", "Item lookups that won the regeneration lock"),
		staleServed: counter("stale_served_total", "Expired values served while another party regenerates"),
		lockWaits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "lock_wait_attempts",
			Help:        "Existence checks performed while waiting for a regenerated value",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 7),
			ConstLabels: constLabels,
		}),
		timeouts: counter("lock_wait_timeouts_total", "Waits that gave up before a value appeared"),
	}
	reg.MustRegister(a.hits, a.misses, a.staleServed, a.lockWaits, a.timeouts)
	return a
}

func (a *Adapter) Hit() { a.hits.Inc() }

func (a *Adapter) Miss() { a.misses.Inc() }

func (a *Adapter) StaleServed() { a.staleServed.Inc() }

// LockWait observes the number of attempts a waiter made.
func (a *Adapter) LockWait(attempts int) { a.lockWaits.Observe(float64(attempts)) }

func (a *Adapter) LockTimeout() { a.timeouts.Inc() }

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
