package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)
	HTTPRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	)

	SolverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "tripopt_solver_duration_seconds", Help: "Solver run time in seconds.", Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5}},
		[]string{"solver"},
	)
	SolverFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tripopt_solver_failures_total", Help: "Solver runs that errored, panicked or timed out."},
		[]string{"solver"},
	)
	// PlanCandidates observes how many candidates each plan ended with
	PlanCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "tripopt_plan_candidates", Help: "Candidate routes per plan.", Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16}},
	)
	PlanFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tripopt_plan_fallbacks_total", Help: "Plans answered by the greedy fallback."},
	)
	PlansInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tripopt_async_plans_in_flight", Help: "Async plans currently being solved."},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration, HTTPRateLimited)
		Registry.MustRegister(SolverDuration, SolverFailures, PlanCandidates, PlanFallbacks, PlansInFlight)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// PlannerObserver feeds planner outcomes into the solver and plan collectors.
type PlannerObserver struct{}

func (PlannerObserver) SolverDone(solver string, took time.Duration, err error) {
	SolverDuration.WithLabelValues(solver).Observe(took.Seconds())
	if err != nil {
		SolverFailures.WithLabelValues(solver).Inc()
	}
}

func (PlannerObserver) PlanDone(candidates int, fallback bool) {
	PlanCandidates.Observe(float64(candidates))
	if fallback {
		PlanFallbacks.Inc()
	}
}
