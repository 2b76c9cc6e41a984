// Package metrics exposes Prometheus collectors for module discovery, module
// loading and the HTTP API.
package metrics

import (
	"context"
	"sync"

	xerrors "Auditum/internal/errors"
	"Auditum/pkg/module"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "auditum"

// Collector owns a registry and every collector registered in it. It
// implements module.Observer.
type Collector struct {
	registry *prometheus.Registry

	discovered   *prometheus.CounterVec
	loads        *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	failures     *prometheus.CounterVec
	loaded       *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	mu      sync.Mutex
	handles map[string]struct{}
}

// NewCollector builds a Collector with Go runtime and process collectors
// registered alongside the module metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		discovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "candidates_total",
			Help:      "Candidates examined during discovery, by outcome.",
		}, []string{"outcome"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "loads_total",
			Help:      "Module load attempts, by role and outcome.",
		}, []string{"role", "outcome"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "load_duration_seconds",
			Help:      "Time spent loading, validating and initializing a module.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"role"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Discovery and load failures, by stage and root error code.",
		}, []string{"stage", "code"}),
		loaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "handles",
			Help:      "Handles produced by the loader in this process, by role.",
		}, []string{"role"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		handles: make(map[string]struct{}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.discovered,
		c.loads,
		c.loadDuration,
		c.failures,
		c.loaded,
		c.httpRequests,
		c.httpErrors,
		c.httpDuration,
	)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Observe implements module.Observer.
func (c *Collector) Observe(_ context.Context, event module.Event) {
	role := string(event.Role)
	if role == "" {
		role = "unknown"
	}
	switch event.Kind {
	case module.EventDiscovered:
		c.discovered.WithLabelValues("discovered").Inc()
	case module.EventDiscoveryFailed:
		c.discovered.WithLabelValues("failed").Inc()
		c.failures.WithLabelValues("discovery", string(xerrors.RootCode(event.Err))).Inc()
	case module.EventLoaded:
		c.loads.WithLabelValues(role, "loaded").Inc()
		c.loadDuration.WithLabelValues(role).Observe(event.Duration.Seconds())
		c.trackHandle(event.LoadID, role)
	case module.EventLoadFailed:
		c.loads.WithLabelValues(role, "failed").Inc()
		c.loadDuration.WithLabelValues(role).Observe(event.Duration.Seconds())
		c.failures.WithLabelValues("load", string(xerrors.RootCode(event.Err))).Inc()
	}
}

// trackHandle counts each load id once even if an event is delivered twice.
func (c *Collector) trackHandle(id, role string) {
	if id != "" {
		c.mu.Lock()
		_, seen := c.handles[id]
		c.handles[id] = struct{}{}
		c.mu.Unlock()
		if seen {
			return
		}
	}
	c.loaded.WithLabelValues(role).Inc()
}
