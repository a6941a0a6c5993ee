package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics del checkout
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)

	PaymentInitiationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_initiations_total",
			Help: "Payment initiations by gateway and result",
		},
		[]string{"gateway", "result"},
	)

	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_provider_call_duration_seconds",
			Help:    "Duration of gateway initiation calls including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"gateway"},
	)

	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Verification callbacks by gateway and outcome",
		},
		[]string{"gateway", "outcome"},
	)

	SignatureMismatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_signature_mismatch_total",
			Help: "Callbacks rejected for integrity failures",
		},
		[]string{"gateway"},
	)

	ExpiredAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_attempts_expired_total",
			Help: "Pending attempts moved to failed by the expiry sweep",
		},
	)

	TrackingObservers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracking_observers",
			Help: "Currently connected tracking observers",
		},
	)

	TrackingPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_publishes_total",
			Help: "Tracking publishes by message type",
		},
		[]string{"type"},
	)

	TrackingPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracking_observers_pruned_total",
			Help: "Observers removed after a failed delivery or ping",
		},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(PaymentInitiationsTotal)
		prometheus.MustRegister(ProviderCallDuration)
		prometheus.MustRegister(CallbacksTotal)
		prometheus.MustRegister(SignatureMismatchTotal)
		prometheus.MustRegister(ExpiredAttemptsTotal)
		prometheus.MustRegister(TrackingObservers)
		prometheus.MustRegister(TrackingPublishesTotal)
		prometheus.MustRegister(TrackingPrunedTotal)
	})
}
