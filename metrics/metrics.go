// Package metrics exposes sitehost's runtime state as Prometheus metrics.
//
// Everything is registered on a private registry so that tests and embedders
// can create independent instances. The Metrics type doubles as the
// observer for the proxy synchronizer, the rate limiting middleware and the
// limiter sweeper.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sagarc03/sitehost"
)

const namespace = "sitehost"

// Metrics holds the collectors of a sitehost process.
type Metrics struct {
	registry *prometheus.Registry

	decisions   *prometheus.CounterVec
	evictions   prometheus.Counter
	syncSeconds *prometheus.HistogramVec
	syncErrors  *prometheus.CounterVec
	requests    *prometheus.CounterVec
	reqSeconds  *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limiting decisions by outcome.",
		}, []string{"outcome"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "evicted_keys_total",
			Help:      "Idle limiter keys removed by the sweeper.",
		}),
		syncSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "sync_duration_seconds",
			Help:      "Duration of proxy configuration operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		syncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "sync_errors_total",
			Help:      "Failed proxy configuration operations.",
		}, []string{"op"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Management API requests by route and status.",
		}, []string{"method", "route", "code"}),
		reqSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Management API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions,
		m.evictions,
		m.syncSeconds,
		m.syncErrors,
		m.requests,
		m.reqSeconds,
	)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Register adds collectors to the registry.
func (m *Metrics) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDecision counts a rate limiting decision.
func (m *Metrics) ObserveDecision(allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// ObserveSweep counts keys evicted by one limiter sweep.
func (m *Metrics) ObserveSweep(evicted int) {
	m.evictions.Add(float64(evicted))
}

// ObserveSync records a proxy synchronizer operation.
func (m *Metrics) ObserveSync(op string, elapsed time.Duration, err error) {
	m.syncSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.syncErrors.WithLabelValues(op).Inc()
	}
}

// Middleware records request counts and latency labelled by the matched chi
// route pattern, so that site names and file paths do not become labels.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.reqSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// UsageSource reports the quota records currently held in memory.
type UsageSource interface {
	Snapshot() []sitehost.SiteUsage
}

var (
	usedBytesDesc = prometheus.NewDesc(
		"sitehost_site_used_bytes",
		"Bytes charged against the site quota",
		[]string{"site"}, nil)

	quotaBytesDesc = prometheus.NewDesc(
		"sitehost_site_quota_bytes",
		"Byte quota of the site",
		[]string{"site"}, nil)
)

type quotaCollector struct {
	source UsageSource
}

// NewQuotaCollector exports used and quota bytes for every loaded site.
func NewQuotaCollector(source UsageSource) prometheus.Collector {
	return &quotaCollector{source: source}
}

func (c *quotaCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- usedBytesDesc
	ch <- quotaBytesDesc
}

func (c *quotaCollector) Collect(ch chan<- prometheus.Metric) {
	for _, u := range c.source.Snapshot() {
		ch <- prometheus.MustNewConstMetric(usedBytesDesc, prometheus.GaugeValue, float64(u.UsedBytes), u.Site)
		ch <- prometheus.MustNewConstMetric(quotaBytesDesc, prometheus.GaugeValue, float64(u.QuotaBytes), u.Site)
	}
}

// KeyCounter reports the number of identities a limiter tracks.
type KeyCounter interface {
	Len() int
}

// NewLimiterKeysGauge exports the number of tracked limiter keys.
func NewLimiterKeysGauge(l KeyCounter) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "tracked_keys",
		Help:      "Identities with requests inside the current window.",
	}, func() float64 {
		return float64(l.Len())
	})
}
