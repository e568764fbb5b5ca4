// Package metrics exposes run, pool and reaper metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// PoolSource reports the live worker pool counters.
type PoolSource func() (active, queued int64)

// Collectors holds the engine's Prometheus collectors on a private registry.
type Collectors struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runsReaped  prometheus.Counter
	circuitOpen *prometheus.GaugeVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recipe_runs_total",
				Help: "Runs that reached a terminal status.",
			},
			[]string{"recipe", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recipe_run_duration_seconds",
				Help:    "Time from start to terminal status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"recipe"},
		),
		runsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recipe_runs_reaped_total",
			Help: "Runs failed by the stale-run reaper.",
		}),
		circuitOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "recipe_provider_circuit_open",
				Help: "1 while calls to the provider fail fast.",
			},
			[]string{"provider"},
		),
	}
	c.registry.MustRegister(
		c.runsTotal,
		c.runDuration,
		c.runsReaped,
		c.circuitOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// WatchPool registers gauges that read the pool on every scrape.
func (c *Collectors) WatchPool(src PoolSource) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "recipe_pool_active",
			Help: "Runs currently executing on a worker.",
		}, func() float64 {
			active, _ := src()
			return float64(active)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "recipe_pool_queued",
			Help: "Runs waiting for a worker.",
		}, func() float64 {
			_, queued := src()
			return float64(queued)
		}),
	)
}

// HubSource reports the event hub's open subscriptions and dropped
// deliveries.
type HubSource interface {
	Subscribers() int
	Dropped() uint64
}

// WatchHub registers collectors that read the event hub on every scrape.
func (c *Collectors) WatchHub(src HubSource) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "recipe_event_subscribers",
			Help: "Open run event subscriptions.",
		}, func() float64 { return float64(src.Subscribers()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "recipe_events_dropped_total",
			Help: "Run events skipped for subscribers that fell behind.",
		}, func() float64 { return float64(src.Dropped()) }),
	)
}

// RunFinished records a run reaching a terminal status.
func (c *Collectors) RunFinished(recipe string, status schema.RunStatus, elapsed time.Duration) {
	c.runsTotal.WithLabelValues(recipe, string(status)).Inc()
	if elapsed > 0 {
		c.runDuration.WithLabelValues(recipe).Observe(elapsed.Seconds())
	}
}

// RunsReaped records a reaper sweep.
func (c *Collectors) RunsReaped(n int) {
	if n > 0 {
		c.runsReaped.Add(float64(n))
	}
}

// ProviderCircuit records whether a provider's circuit is open.
func (c *Collectors) ProviderCircuit(provider string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	c.circuitOpen.WithLabelValues(provider).Set(v)
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
