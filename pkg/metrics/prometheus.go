package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealflow_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PipelineWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_pipeline_writes_total",
			Help: "Total number of pipeline writes by operation",
		},
		[]string{"tenant_id", "operation"},
	)

	DealsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_deals_created_total",
			Help: "Total number of deals created",
		},
		[]string{"tenant_id"},
	)

	DealStageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_deal_stage_transitions_total",
			Help: "Total number of deal stage changes",
		},
		[]string{"tenant_id"},
	)

	FindDealsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealflow_pipeline_find_deals_duration_seconds",
			Help:    "Latency of loading the deals of a pipeline",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"tenant_id"},
	)

	EventPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_event_publish_failures_total",
			Help: "Total number of best-effort event publishes that failed",
		},
		[]string{"event_type"},
	)

	OutboxEventsRelayedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealflow_outbox_events_relayed_total",
			Help: "Total number of outbox events relayed by result",
		},
		[]string{"result"},
	)
)
