package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Значения label "result".
const (
	ResultAcquired  = "acquired"
	ResultContended = "contended"
	ResultError     = "error"
	ResultExecuted  = "executed"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
	ResultDelivered = "delivered"
	ResultDuplicate = "duplicate"
)

var (
	// SchedulerExecutions считает исходы попыток выполнить правило.
	SchedulerExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_scheduler_executions_total",
		Help: "Schedule rule execution attempts by result.",
	}, []string{"result"})

	// LockAcquisitions считает попытки захвата распределённой блокировки.
	LockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_lock_acquisitions_total",
		Help: "Distributed lock acquisition attempts by result.",
	}, []string{"result"})

	OutboxPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_outbox_published_total",
		Help: "Outbox events published to the bus.",
	})

	OutboxPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_outbox_publish_failures_total",
		Help: "Outbox publish attempts that failed.",
	})

	// OutboxBacklog размер очереди неопубликованных событий на последнем проходе relay.
	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_outbox_backlog",
		Help: "Unprocessed outbox events seen by the relay.",
	})

	// BroadcastDeliveries считает отправки в локальные сессии.
	BroadcastDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broadcast_deliveries_total",
		Help: "Broadcast pushes to local sessions by result.",
	}, []string{"result"})

	// HTTPRequests запросы к chat-api по шаблону маршрута и коду ответа.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_http_requests_total",
		Help: "HTTP API requests by route and status code.",
	}, []string{"route", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_http_request_duration_seconds",
		Help:    "HTTP API request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_sessions_active",
		Help: "Sessions registered in this process.",
	})
)

// OpsMux возвращает mux с /healthz и /metrics.
func OpsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
