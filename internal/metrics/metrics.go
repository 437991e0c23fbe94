package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_pipeline_outcomes_total",
		Help: "Pipeline runs by consumer and outcome",
	}, []string{"consumer", "outcome"})
	DLQCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_dead_letters_total",
		Help: "Total number of messages sent to the dead letter queue",
	}, []string{"consumer"})
	RetriesEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_retries_enqueued_total",
		Help: "Retry events written, by event code",
	}, []string{"code"})
	ExpirationRescheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatcher_expiration_rescheduled_total",
		Help: "Expiration checks put back on the queue to wait for a payment result",
	})
	EffectLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatcher_effect_latency_seconds",
		Help:    "External collaborator call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"effect"})
	DBLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatcher_db_latency_seconds",
		Help:    "Event log and view store operation latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(PipelineOutcomes, DLQCount, RetriesEnqueued, ExpirationRescheduled, EffectLatency, DBLatency)
}

// Serve starts a /metrics endpoint on addr (e.g., :2112).
func Serve(addr string) *http.Server {
	if addr == "" {
		addr = ":2112"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go srv.ListenAndServe()
	return srv
}
