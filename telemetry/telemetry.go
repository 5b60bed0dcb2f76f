// Package telemetry holds the run metrics. Every metric is a no-op until
// InitializeTelemetry registers real Prometheus collectors, so callers never
// check whether metrics are enabled.
package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/cfg"
)

const namespace = "fontpub"

var registry *prometheus.Registry

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Add(float64)
}

type Histogram interface {
	Observe(float64)
}

// Labeled metrics resolve a child by label values in declaration order
type (
	CounterVec   interface{ With(labels ...string) Counter }
	GaugeVec     interface{ With(labels ...string) Gauge }
	HistogramVec interface{ With(labels ...string) Histogram }
)

// noop satisfies Counter, Gauge and Histogram
type noop struct{}

func (noop) Inc()            {}
func (noop) Add(float64)     {}
func (noop) Set(float64)     {}
func (noop) Observe(float64) {}

// labeled adapts a label lookup to the Vec interfaces
type labeled[M any] func(labels ...string) M

func (l labeled[M]) With(labels ...string) M { return l(labels...) }

func noopVec[M any](m M) labeled[M] {
	return func(...string) M { return m }
}

func register[C prometheus.Collector](c C) C {
	registry.MustRegister(c)
	return c
}

func counter(name, help string) Counter {
	return register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: name, Help: help,
	}))
}

func gauge(name, help string) Gauge {
	return register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: name, Help: help,
	}))
}

func histogram(name, help string, buckets []float64) Histogram {
	return register(prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: name, Help: help, Buckets: buckets,
	}))
}

func counterVec(name, help string, labels ...string) CounterVec {
	vec := register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: name, Help: help,
	}, labels))
	return labeled[Counter](func(values ...string) Counter { return vec.WithLabelValues(values...) })
}

func gaugeVec(name, help string, labels ...string) GaugeVec {
	vec := register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: name, Help: help,
	}, labels))
	return labeled[Gauge](func(values ...string) Gauge { return vec.WithLabelValues(values...) })
}

func histogramVec(name, help string, buckets []float64, labels ...string) HistogramVec {
	vec := register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: name, Help: help, Buckets: buckets,
	}, labels))
	return labeled[Histogram](func(values ...string) Histogram { return vec.WithLabelValues(values...) })
}

// InitializeTelemetry swaps the no-op metrics for registered collectors
// when Prometheus is enabled
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	InitMetrics()

	log.Debug().Msg("Prometheus metrics enabled")
}

// GetMetricsHandler serves the registry, or returns nil when metrics are off
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Push sends the current metrics to the configured Pushgateway. A run exits
// before any scraper would see it, so this is how a run reports.
func Push() error {
	gateway := cfg.Config.Prometheus.PushGateway
	if registry == nil || gateway == "" {
		return nil
	}

	if err := push.New(gateway, cfg.Config.Prometheus.Job).Gatherer(registry).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gateway, err)
	}
	log.Debug().Str("gateway", gateway).Msg("Pushed metrics")
	return nil
}
