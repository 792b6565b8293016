// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal                *prometheus.CounterVec
	taskRetriesTotal          *prometheus.CounterVec
	proxiesBlockedTotal       *prometheus.CounterVec
	pendingTasks              prometheus.Gauge
	freeProxies               prometheus.Gauge
	activeWorkers             prometheus.Gauge
	navigationDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_tasks_total",
				Help: "Total number of tasks finished, labeled by outcome status.",
			},
			[]string{"status"},
		)

		taskRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_task_retries_total",
				Help: "Total number of task retries, labeled by failure reason.",
			},
			[]string{"reason"},
		)

		proxiesBlockedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_proxies_blocked_total",
				Help: "Total number of proxy block events, labeled by reason.",
			},
			[]string{"reason"},
		)

		pendingTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_pending_tasks",
				Help: "Number of tasks currently awaiting dispatch.",
			},
		)

		freeProxies = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_free_proxies",
				Help: "Number of proxies neither blocked nor in use.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently running.",
			},
		)

		navigationDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_navigation_duration_seconds",
				Help:    "Histogram of page navigation latencies.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask increments the finished-task counter for the given status.
func ObserveTask(status string) {
	Init()
	tasksTotal.WithLabelValues(status).Inc()
}

// ObserveRetry increments the retry counter for the given failure reason.
func ObserveRetry(reason string) {
	Init()
	taskRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveProxyBlocked increments the proxy block counter.
func ObserveProxyBlocked(reason string) {
	Init()
	proxiesBlockedTotal.WithLabelValues(reason).Inc()
}

// SetPendingTasks records the current queue depth.
func SetPendingTasks(n int) {
	Init()
	pendingTasks.Set(float64(n))
}

// SetFreeProxies records how many proxies are currently acquirable.
func SetFreeProxies(n int) {
	Init()
	freeProxies.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveNavigation records the duration of one page navigation.
func ObserveNavigation(d time.Duration) {
	Init()
	navigationDurationSeconds.Observe(d.Seconds())
}
