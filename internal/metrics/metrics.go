// Package metrics collects and exposes Prometheus metrics for the simulated
// platform. A Collector is installed as the platform's env.Observer.
package metrics

import (
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/jansone-dace/OSI-2019/kernel/env"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
)

const namespace = "osi"

// Collector holds all platform Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	EnvsCreatedTotal prometheus.Counter
	EnvsFreedTotal   prometheus.Counter
	EnvsAlive        prometheus.Gauge
	ExoforkTotal     prometheus.Counter
	PageFaultsTotal  *prometheus.CounterVec
	PageMapsTotal    *prometheus.CounterVec
	FramesInUseGauge prometheus.Gauge
}

var _ env.Observer = (*Collector)(nil)

// New creates and registers all platform metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()

	// Register default Go runtime metrics.
	reg.MustRegister(collectors.NewGoCollector())

	c := &Collector{
		registry: reg,

		EnvsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envs_created_total",
				Help:      "Total number of environments created.",
			},
		),

		EnvsFreedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envs_freed_total",
				Help:      "Total number of environments freed.",
			},
		),

		EnvsAlive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "envs_alive",
				Help:      "Number of allocated environments.",
			},
		),

		ExoforkTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exofork_total",
				Help:      "Total number of child environments created by exofork.",
			},
		),

		PageFaultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_faults_total",
				Help:      "Total number of user page faults by outcome.",
			},
			[]string{"outcome"},
		),

		PageMapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_maps_total",
				Help:      "Total number of pages mapped by the platform by mapping kind.",
			},
			[]string{"kind"},
		),

		FramesInUseGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "frames_in_use",
				Help:      "Number of reserved physical frames.",
			},
		),
	}

	reg.MustRegister(
		c.EnvsCreatedTotal,
		c.EnvsFreedTotal,
		c.EnvsAlive,
		c.ExoforkTotal,
		c.PageFaultsTotal,
		c.PageMapsTotal,
		c.FramesInUseGauge,
	)

	return c
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Gather returns the platform metric families. Go runtime metrics are left
// out.
func (c *Collector) Gather() ([]*dto.MetricFamily, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, err
	}

	platform := families[:0]
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), namespace+"_") {
			platform = append(platform, mf)
		}
	}
	return platform, nil
}

// WriteText writes the platform metrics in the Prometheus text format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.Gather()
	if err != nil {
		return err
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// EnvCreated implements env.Observer.
func (c *Collector) EnvCreated(env.EnvID) {
	c.EnvsCreatedTotal.Inc()
	c.EnvsAlive.Inc()
}

// EnvFreed implements env.Observer.
func (c *Collector) EnvFreed(env.EnvID) {
	c.EnvsFreedTotal.Inc()
	c.EnvsAlive.Dec()
}

// Exofork implements env.Observer.
func (c *Collector) Exofork(_, _ env.EnvID) {
	c.ExoforkTotal.Inc()
}

// PageFault implements env.Observer.
func (c *Collector) PageFault(outcome string) {
	c.PageFaultsTotal.WithLabelValues(outcome).Inc()
}

// PageMapped implements env.Observer.
func (c *Collector) PageMapped(perm vmm.PageTableEntryFlag) {
	c.PageMapsTotal.WithLabelValues(mappingKind(perm)).Inc()
}

// FramesInUse implements env.Observer.
func (c *Collector) FramesInUse(n int) {
	c.FramesInUseGauge.Set(float64(n))
}

func mappingKind(perm vmm.PageTableEntryFlag) string {
	switch {
	case perm&vmm.FlagCopyOnWrite != 0:
		return "cow"
	case perm&vmm.FlagRW != 0:
		return "writable"
	default:
		return "readonly"
	}
}
