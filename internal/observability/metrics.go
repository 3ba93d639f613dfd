package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "transitions_total", Help: "Ride lifecycle transitions"},
		[]string{"from", "to"},
	)
	RouteLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "route_lookups_total", Help: "Route lookups by slot and result"},
		[]string{"slot", "result"},
	)
	SuggestionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "suggestion_requests_total", Help: "Location suggestion lookups by result"},
		[]string{"result"},
	)
	BackendCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "backend_calls_total", Help: "Ride backend calls by operation and result"},
		[]string{"op", "result"},
	)
	StaleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "stale_events_total", Help: "Completions discarded because a newer request superseded them"},
		[]string{"kind"},
	)
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_client", Name: "ws_clients", Help: "Connected presentation websocket clients"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_client",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	JournalLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_client",
		Name:      "journal_lag_seconds",
		Help:      "Delay between a transition and its persistence",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)
