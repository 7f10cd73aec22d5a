// Package metrics records dispatch outcomes in Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bjaus/callback"
)

const namespace = "callback"

// Outcome label values.
const (
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeNoHandler  = "no_handler"
	OutcomeParseError = "parse_error"
)

// Collector holds the dispatch metrics.
type Collector struct {
	dispatches   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	topicStatus  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// uses a private registry, which is handy in tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Dispatched calls by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Handler run time by kind.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"kind"},
		),
		topicStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "topic_status_total",
				Help:      "Topic event results by subscription and status.",
			},
			[]string{"subscription", "status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP app protocol requests by code and method.",
			},
			[]string{"code", "method"},
		),
	}
	reg.MustRegister(c.dispatches, c.duration, c.topicStatus, c.httpRequests)

	c.gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

// Options returns the router hooks that feed the collector.
func (c *Collector) Options() []callback.Option {
	return []callback.Option{
		callback.WithOnSuccess(func(_ context.Context, kind callback.Kind, _ string, d time.Duration) {
			c.dispatches.WithLabelValues(kind.String(), OutcomeSuccess).Inc()
			c.duration.WithLabelValues(kind.String()).Observe(d.Seconds())
		}),
		callback.WithOnFailure(func(_ context.Context, kind callback.Kind, _ string, _ error, d time.Duration) {
			c.dispatches.WithLabelValues(kind.String(), OutcomeFailure).Inc()
			c.duration.WithLabelValues(kind.String()).Observe(d.Seconds())
		}),
		callback.WithOnNoHandler(func(_ context.Context, kind callback.Kind, _ string) {
			c.dispatches.WithLabelValues(kind.String(), OutcomeNoHandler).Inc()
		}),
		callback.WithOnParseError(func(_ context.Context, kind callback.Kind, _ string, _ error) {
			c.dispatches.WithLabelValues(kind.String(), OutcomeParseError).Inc()
		}),
		callback.WithOnTopicStatus(func(_ context.Context, key string, s callback.TopicStatus) {
			c.topicStatus.WithLabelValues(key, s.String()).Inc()
		}),
	}
}

// Middleware counts HTTP requests by status code and method.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			c.httpRequests.WithLabelValues(strconv.Itoa(ww.Status()), r.Method).Inc()
		}()
		next.ServeHTTP(ww, r)
	})
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
