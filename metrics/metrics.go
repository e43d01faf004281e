// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "production"

var (
	// StockMovements counts successful stock mutations by direction ("in", "out").
	StockMovements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_movements_total",
		Help:      "Successful stock mutations by direction.",
	}, []string{"direction"})

	// StockUnits sums the units moved by direction.
	StockUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_units_total",
		Help:      "Units of stock moved by direction.",
	}, []string{"direction"})

	// StockRejections counts stock decrements refused for lack of stock.
	StockRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_rejections_total",
		Help:      "Stock decrements refused, by reason.",
	}, []string{"reason"})

	// WorkLogTransitions counts work-log entries entering a status.
	WorkLogTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worklog_transitions_total",
		Help:      "Work-log entries entering a status, by mode.",
	}, []string{"mode", "status"})

	// WageRecords counts wage record lifecycle events ("created", "recalculated", "deleted").
	WageRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wage_records_total",
		Help:      "Wage record lifecycle events.",
	}, []string{"event"})

	// CollaboratorFailures counts suppressed audit/notification failures.
	CollaboratorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collaborator_failures_total",
		Help:      "Suppressed failures of side-effecting collaborators.",
	}, []string{"collaborator"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
