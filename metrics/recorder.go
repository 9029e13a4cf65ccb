package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gen_backend/queue"
)

const namespace = "gen_backend"

// Recorder publishes queue and provider events to Prometheus and to a
// MetricsStore. Each Recorder owns its registry, so several can coexist in
// one process.
type Recorder struct {
	registry *prometheus.Registry
	store    *MetricsStore

	admitted     *prometheus.CounterVec
	settled      *prometheus.CounterVec
	cancelled    *prometheus.CounterVec
	waitTime     *prometheus.HistogramVec
	runTime      *prometheus.HistogramVec
	waiting      prometheus.Gauge
	running      prometheus.Gauge
	providerRuns *prometheus.CounterVec
	providerTime *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRecorder creates a Recorder writing to store. A nil store gets a
// default one.
func NewRecorder(store *MetricsStore) *Recorder {
	if store == nil {
		store = NewMetricsStore(DefaultStoreConfig(), time.Now())
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		store:    store,

		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "admitted_total",
			Help:      "Tasks admitted to the queue.",
		}, []string{"priority"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "settled_total",
			Help:      "Tasks settled, by final state.",
		}, []string{"state"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "cancelled_total",
			Help:      "Cancelled tasks, by the phase the cancellation hit.",
		}, []string{"phase"}),
		waitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "wait_seconds",
			Help:      "Time tasks spent waiting for a slot.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"priority"}),
		runTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "run_seconds",
			Help:      "Time tasks spent running.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7m
		}, []string{"state"}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "waiting",
			Help:      "Tasks currently waiting.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "running",
			Help:      "Tasks currently running.",
		}),
		providerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Provider attempts.",
		}, []string{"provider", "success"}),
		providerTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of provider attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		}, []string{"provider"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"method", "route"}),
	}

	r.registry.MustRegister(
		r.admitted, r.settled, r.cancelled, r.waitTime, r.runTime,
		r.waiting, r.running, r.providerRuns, r.providerTime,
		r.httpRequests, r.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return r
}

// Store returns the MetricsStore the Recorder writes to.
func (r *Recorder) Store() *MetricsStore { return r.store }

// Registry returns the Prometheus registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) TaskAdmitted(priority queue.Priority) {
	r.admitted.WithLabelValues(string(priority)).Inc()
}

func (r *Recorder) TaskStarted(priority queue.Priority, wait time.Duration) {
	r.waitTime.WithLabelValues(string(priority)).Observe(wait.Seconds())
}

func (r *Recorder) TaskSettled(s queue.Settlement) {
	r.settled.WithLabelValues(string(s.State)).Inc()
	if s.State == queue.StateCancelled {
		r.cancelled.WithLabelValues(string(s.Phase)).Inc()
	}
	if s.Runtime > 0 {
		r.runTime.WithLabelValues(string(s.State)).Observe(s.Runtime.Seconds())
	}

	rec := TaskRecord{
		ID:         s.TaskID,
		UserID:     s.UserID,
		Priority:   string(s.Priority),
		State:      string(s.State),
		Phase:      string(s.Phase),
		Wait:       s.Wait,
		Runtime:    s.Runtime,
		FinishedAt: time.Now(),
	}
	if s.Err != nil {
		rec.ErrorMsg = s.Err.Error()
	}
	r.store.RecordTask(rec)
}

func (r *Recorder) QueueDepth(waiting, running int) {
	r.waiting.Set(float64(waiting))
	r.running.Set(float64(running))
}

// ObserveProvider records one provider attempt.
func (r *Recorder) ObserveProvider(provider string, success bool, elapsed time.Duration) {
	r.providerRuns.WithLabelValues(provider, strconv.FormatBool(success)).Inc()
	r.providerTime.WithLabelValues(provider).Observe(elapsed.Seconds())
	r.store.RecordProviderCall(provider, success, elapsed)
}

// ObserveHTTP records one handled request. route should be the route
// pattern, not the raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
