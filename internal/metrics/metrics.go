// Package metrics registers the daemon's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcileTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircheck_reconcile_ticks_total",
		Help: "Reconciliation ticks by outcome.",
	}, []string{"outcome"})

	capturesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aircheck_captures_started_total",
		Help: "Capture workers started.",
	})

	capturesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircheck_captures_finished_total",
		Help: "Capture workers finished by outcome (committed, failed, canceled).",
	}, []string{"outcome"})

	activeCaptures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aircheck_captures_active",
		Help: "Capture workers currently running.",
	})

	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircheck_upstream_requests_total",
		Help: "Upstream NHK requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aircheck_http_requests_total",
		Help: "HTTP requests by route and status class.",
	}, []string{"route", "status"})
)

func IncReconcileTick(outcome string) { reconcileTicks.WithLabelValues(outcome).Inc() }

func IncCaptureStarted() {
	capturesStarted.Inc()
	activeCaptures.Inc()
}

func IncCaptureFinished(outcome string) {
	capturesFinished.WithLabelValues(outcome).Inc()
	activeCaptures.Dec()
}

func IncUpstreamRequest(endpoint, outcome string) {
	upstreamRequests.WithLabelValues(endpoint, outcome).Inc()
}

func IncHTTPRequest(route, status string) { httpRequests.WithLabelValues(route, status).Inc() }
