package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketlens"

var (
	queueEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "enqueued_total",
		Help:      "Jobs accepted into a user queue",
	})
	queueJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Queue status transitions, labeled by the status reached",
	}, []string{"status"})
	queueSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "sweeps_total",
		Help:      "Scheduled consumer executions",
	})
	queueActiveUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "active_users",
		Help:      "Users with pending jobs observed during the latest sweep",
	})
	backendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "requests_total",
		Help:      "Calls to the analysis backend, labeled by outcome",
	}, []string{"outcome"})
	backendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "request_duration_seconds",
		Help:      "Latency of calls to the analysis backend",
		Buckets:   prometheus.DefBuckets,
	})
	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter",
	})
	otpEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "otp_total",
		Help:      "Verification code events, labeled by event",
	}, []string{"event"})
)

// Backend outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeHTTPError     = "http_error"
	OutcomeInvalidBody   = "invalid_body"
	OutcomeUnavailable   = "unavailable"
	OutcomeMisconfigured = "misconfigured"
)

// OTP events.
const (
	OTPIssued          = "issued"
	OTPDeliveryFailed  = "delivery_failed"
	OTPVerified        = "verified"
	OTPRejected        = "rejected"
	OTPExpired         = "expired"
	OTPEmailMismatched = "email_mismatch"
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordEnqueued() {
	queueEnqueued.Inc()
}

func RecordJobStatus(status string) {
	queueJobs.WithLabelValues(status).Inc()
}

// RecordSweep counts a consumer run.
func RecordSweep(activeUsers int) {
	queueSweeps.Inc()
	queueActiveUsers.Set(float64(activeUsers))
}

func RecordBackend(outcome string, elapsed time.Duration) {
	backendRequests.WithLabelValues(outcome).Inc()
	if outcome != OutcomeMisconfigured {
		backendDuration.Observe(elapsed.Seconds())
	}
}

func RecordRateLimited() {
	rateLimited.Inc()
}

func RecordOTP(event string) {
	otpEvents.WithLabelValues(event).Inc()
}
