package obs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics groups Prometheus collectors for HTTP observability.
type HTTPMetrics struct {
	ReqTotal *prometheus.CounterVec
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics registers and returns HTTP metrics collectors.
func NewHTTPMetrics(namespace string, buckets []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}
	} else {
		sort.Float64s(buckets)
	}
	m := &HTTPMetrics{
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   buckets,
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
	registerOrReuse(reg, m.ReqTotal, func(c prometheus.Collector) { m.ReqTotal = c.(*prometheus.CounterVec) })
	registerOrReuse(reg, m.ReqDur, func(c prometheus.Collector) { m.ReqDur = c.(*prometheus.HistogramVec) })
	registerOrReuse(reg, m.InFlight, func(c prometheus.Collector) { m.InFlight = c.(prometheus.Gauge) })
	return m
}

var (
	domainOnce sync.Once

	// CartMutationsTotal counts ledger mutations by operation and outcome.
	CartMutationsTotal *prometheus.CounterVec
	// CheckoutSubmissionsTotal counts checkout attempts by payment method and terminal result.
	CheckoutSubmissionsTotal *prometheus.CounterVec
	// CheckoutReconciliationTotal counts payments that may have moved without a matching order.
	CheckoutReconciliationTotal prometheus.Counter
	// DraftLinesDroppedTotal counts order lines rejected by the draft builder.
	DraftLinesDroppedTotal *prometheus.CounterVec
	// PaymentSessionTotal counts gateway session creation outcomes.
	PaymentSessionTotal *prometheus.CounterVec
	// PaymentVerifyTotal counts gateway verification outcomes.
	PaymentVerifyTotal *prometheus.CounterVec
	// ReconcileJobsTotal counts reconciliation job outcomes processed by the worker.
	ReconcileJobsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers checkout collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Cart ledger mutations by operation and outcome.",
		}, []string{"op", "result"})
		CheckoutSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_submissions_total",
			Help:      "Checkout submissions by payment method and result.",
		}, []string{"method", "result"})
		CheckoutReconciliationTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_reconciliation_required_total",
			Help:      "Checkouts where payment may have been collected without an order record.",
		})
		DraftLinesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_draft_lines_dropped_total",
			Help:      "Order lines dropped from drafts for missing required fields.",
		}, []string{"source"})
		PaymentSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_session_total",
			Help:      "Payment session creation outcomes.",
		}, []string{"provider", "result"})
		PaymentVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Payment verification outcomes.",
		}, []string{"provider", "result"})
		ReconcileJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_jobs_total",
			Help:      "Reconciliation job outcomes.",
		}, []string{"result"})

		registerOrReuse(reg, CartMutationsTotal, func(c prometheus.Collector) { CartMutationsTotal = c.(*prometheus.CounterVec) })
		registerOrReuse(reg, CheckoutSubmissionsTotal, func(c prometheus.Collector) { CheckoutSubmissionsTotal = c.(*prometheus.CounterVec) })
		registerOrReuse(reg, CheckoutReconciliationTotal, func(c prometheus.Collector) { CheckoutReconciliationTotal = c.(prometheus.Counter) })
		registerOrReuse(reg, DraftLinesDroppedTotal, func(c prometheus.Collector) { DraftLinesDroppedTotal = c.(*prometheus.CounterVec) })
		registerOrReuse(reg, PaymentSessionTotal, func(c prometheus.Collector) { PaymentSessionTotal = c.(*prometheus.CounterVec) })
		registerOrReuse(reg, PaymentVerifyTotal, func(c prometheus.Collector) { PaymentVerifyTotal = c.(*prometheus.CounterVec) })
		registerOrReuse(reg, ReconcileJobsTotal, func(c prometheus.Collector) { ReconcileJobsTotal = c.(*prometheus.CounterVec) })
	})
}

// ParseBucketsCSV converts a comma-separated list of bucket boundaries (milliseconds) into floats.
func ParseBucketsCSV(csv string) []float64 {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	return out
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func registerOrReuse(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
