// Package metrics holds the domain metrics instruments shared across the
// service layer and HTTP handlers. It exists because cmd/api/metrics.go is
// package main and cannot be imported by internal/... packages -- anything a
// service or handler needs to record at runtime lives here instead.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every domain metric recorded outside the HTTP layer: lead
// intake, auction outcomes, buyer PING/POST latency, queue depth and
// webhook delivery.
type Registry struct {
	leadsSubmittedTotal *prometheus.CounterVec
	leadQualityScore    prometheus.Histogram

	auctionDuration *prometheus.HistogramVec
	auctionsTotal   *prometheus.CounterVec

	buyerPingDuration *prometheus.HistogramVec
	buyerPostDuration *prometheus.HistogramVec

	queueDepth           *prometheus.GaugeVec
	queueDeadLetterTotal prometheus.Counter

	webhooksReceivedTotal *prometheus.CounterVec

	dbConnectionPoolSize *prometheus.GaugeVec
	dbConnectionPoolMax  prometheus.Gauge
}

// NewRegistry registers every instrument against the default Prometheus
// registry and returns the handle used to record against them.
func NewRegistry() *Registry {
	return &Registry{
		leadsSubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auction_broker",
				Subsystem: "lead",
				Name:      "submitted_total",
				Help:      "Total number of leads submitted",
			},
			[]string{"priority"},
		),
		leadQualityScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "auction_broker",
				Subsystem: "lead",
				Name:      "quality_score",
				Help:      "Distribution of computed lead quality scores",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			},
		),
		auctionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "auction_broker",
				Subsystem: "auction",
				Name:      "duration_seconds",
				Help:      "Duration of a full PING-then-POST auction run",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
			},
			[]string{"outcome"},
		),
		auctionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auction_broker",
				Subsystem: "auction",
				Name:      "completed_total",
				Help:      "Total number of completed auctions by outcome",
			},
			[]string{"outcome", "reason"},
		),
		buyerPingDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "auction_broker",
				Subsystem: "buyer",
				Name:      "ping_duration_seconds",
				Help:      "Duration of outbound PING calls to buyers",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"buyer", "status"},
		),
		buyerPostDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "auction_broker",
				Subsystem: "buyer",
				Name:      "post_duration_seconds",
				Help:      "Duration of outbound POST calls to buyers",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"buyer", "status"},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "auction_broker",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Current number of jobs waiting in the work queue",
			},
			[]string{"priority"},
		),
		queueDeadLetterTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "auction_broker",
				Subsystem: "queue",
				Name:      "dead_letter_total",
				Help:      "Total number of jobs moved to the dead-letter list",
			},
		),
		webhooksReceivedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "auction_broker",
				Subsystem: "webhook",
				Name:      "received_total",
				Help:      "Total number of inbound buyer webhook requests",
			},
			[]string{"action", "status"},
		),
		dbConnectionPoolSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pgxpool",
				Name:      "connections",
				Help:      "Current number of connections in the pool",
			},
			[]string{"state"},
		),
		dbConnectionPoolMax: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pgxpool",
				Name:      "max_conns",
				Help:      "Maximum number of connections in the pool",
			},
		),
	}
}

// RecordLeadSubmitted records a lead submission by queue priority and its
// computed quality score.
func (r *Registry) RecordLeadSubmitted(priority string, qualityScore int) {
	r.leadsSubmittedTotal.WithLabelValues(priority).Inc()
	r.leadQualityScore.Observe(float64(qualityScore))
}

// RecordAuctionCompleted records a completed auction's outcome, reason and
// wall-clock duration.
func (r *Registry) RecordAuctionCompleted(outcome, reason string, duration time.Duration) {
	r.auctionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	r.auctionsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordBuyerPing records the duration and outcome of an outbound PING call.
func (r *Registry) RecordBuyerPing(buyerName, status string, duration time.Duration) {
	r.buyerPingDuration.WithLabelValues(buyerName, status).Observe(duration.Seconds())
}

// RecordBuyerPost records the duration and outcome of an outbound POST call.
func (r *Registry) RecordBuyerPost(buyerName, status string, duration time.Duration) {
	r.buyerPostDuration.WithLabelValues(buyerName, status).Observe(duration.Seconds())
}

// UpdateQueueDepth updates the work queue depth gauge for a priority class.
func (r *Registry) UpdateQueueDepth(priority string, depth float64) {
	r.queueDepth.WithLabelValues(priority).Set(depth)
}

// RecordQueueDeadLetter records a job moved to the dead-letter list.
func (r *Registry) RecordQueueDeadLetter() {
	r.queueDeadLetterTotal.Inc()
}

// RecordWebhookReceived records an inbound buyer webhook by action and final
// processing status.
func (r *Registry) RecordWebhookReceived(action, status string) {
	r.webhooksReceivedTotal.WithLabelValues(action, status).Inc()
}

// UpdateDBConnectionPoolMetrics updates database connection pool gauges.
func (r *Registry) UpdateDBConnectionPoolMetrics(active, idle, total, max int) {
	r.dbConnectionPoolSize.WithLabelValues("active").Set(float64(active))
	r.dbConnectionPoolSize.WithLabelValues("idle").Set(float64(idle))
	r.dbConnectionPoolSize.WithLabelValues("total").Set(float64(total))
	r.dbConnectionPoolMax.Set(float64(max))
}
