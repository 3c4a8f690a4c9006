// Package prometheus exports coordinator events as Prometheus metrics.
package prometheus

import (
	"time"

	"github.com/jrsteele09/go-auth-client/authclient"
	"github.com/prometheus/client_golang/prometheus"
)

var _ authclient.Metrics = (*Collector)(nil)

// Collector implements authclient.Metrics.
type Collector struct {
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	refreshing      prometheus.Gauge
	queued          prometheus.Counter
	cancelled       prometheus.Counter
	replays         *prometheus.CounterVec
	queueWait       prometheus.Histogram
	invalidated     prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, namespace string) *Collector {
	c := &Collector{
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "refreshes_total",
				Help:      "Token refresh exchanges by result.",
			},
			[]string{"result"},
		),
		refreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "refresh_duration_seconds",
				Help:      "Duration of token refresh exchanges.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
		),
		refreshing: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "refresh_in_progress",
				Help:      "1 while a token refresh is outstanding.",
			},
		),
		queued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "queued_requests_total",
				Help:      "Requests queued behind an in-progress refresh.",
			},
		),
		cancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "cancelled_requests_total",
				Help:      "Queued requests cancelled before replay.",
			},
		),
		replays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "replayed_requests_total",
				Help:      "Requests replayed after a refresh, by result.",
			},
			[]string{"result"},
		),
		queueWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "queue_wait_seconds",
				Help:      "Time from queueing a request to its replay.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
		),
		invalidated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "sessions_invalidated_total",
				Help:      "Sessions ended because a refresh failed.",
			},
		),
	}

	reg.MustRegister(
		c.refreshes,
		c.refreshDuration,
		c.refreshing,
		c.queued,
		c.cancelled,
		c.replays,
		c.queueWait,
		c.invalidated,
	)
	return c
}

func (c *Collector) RefreshStarted() {
	c.refreshing.Set(1)
}

func (c *Collector) RefreshCompleted(success bool, duration time.Duration) {
	c.refreshing.Set(0)
	result := "success"
	if !success {
		result = "failure"
	}
	c.refreshes.WithLabelValues(result).Inc()
	c.refreshDuration.Observe(duration.Seconds())
}

func (c *Collector) RequestQueued() {
	c.queued.Inc()
}

func (c *Collector) QueuedRequestCancelled() {
	c.cancelled.Inc()
}

func (c *Collector) RequestReplayed(result string, waited time.Duration) {
	c.replays.WithLabelValues(result).Inc()
	c.queueWait.Observe(waited.Seconds())
}

func (c *Collector) SessionInvalidated() {
	c.invalidated.Inc()
}
