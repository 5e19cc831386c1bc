package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the client's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopclient",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Outbound storefront backend requests by outcome.",
		},
		[]string{"method", "route", "outcome"},
	)

	authTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopclient",
			Subsystem: "auth",
			Name:      "transitions_total",
			Help:      "Auth flow state transitions.",
		},
		[]string{"state"},
	)

	checkoutStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopclient",
			Subsystem: "checkout",
			Name:      "stage_transitions_total",
			Help:      "Checkout stage transitions.",
		},
		[]string{"stage"},
	)

	checkoutDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shopclient",
			Subsystem: "checkout",
			Name:      "degraded_confirmations_total",
			Help:      "Checkouts confirmed with a placeholder order reference after order creation failed.",
		},
	)

	paymentOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopclient",
			Subsystem: "payment",
			Name:      "outcomes_total",
			Help:      "Simulated payment outcomes.",
		},
		[]string{"kind", "via"},
	)
)

func init() {
	Registry.MustRegister(
		apiRequests,
		authTransitions,
		checkoutStages,
		checkoutDegraded,
		paymentOutcomes,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordAPIRequest(method, route, outcome string) {
	apiRequests.WithLabelValues(method, route, outcome).Inc()
}

func RecordAuthTransition(state string) {
	authTransitions.WithLabelValues(state).Inc()
}

func RecordCheckoutStage(stage string) {
	checkoutStages.WithLabelValues(stage).Inc()
}

func RecordCheckoutDegraded() {
	checkoutDegraded.Inc()
}

func RecordPaymentOutcome(kind, via string) {
	paymentOutcomes.WithLabelValues(kind, via).Inc()
}
