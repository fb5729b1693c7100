package taskmanager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	submitted *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	finished  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	pending   prometheus.Gauge
	running   prometheus.Gauge
	evicted   prometheus.Counter
}

// newMetrics регистрирует метрики менеджера задач. Без Registerer
// используется локальный реестр, чтобы несколько менеджеров (например,
// в тестах) не конфликтовали в глобальном.
func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &metrics{
		submitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmanager_tasks_submitted_total",
			Help: "Total number of tasks accepted by the task manager.",
		}, []string{"type"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmanager_tasks_rejected_total",
			Help: "Total number of submissions refused, partitioned by reason.",
		}, []string{"reason"}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmanager_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status.",
		}, []string{"type", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmanager_task_duration_seconds",
			Help:    "Task execution time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskmanager_tasks_pending",
			Help: "Tasks waiting for a worker.",
		}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskmanager_tasks_running",
			Help: "Tasks currently executing.",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskmanager_tasks_evicted_total",
			Help: "Terminal tasks removed from the registry.",
		}),
	}
}
