package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"inferbridge/internal/errcode"
)

var (
	chatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferbridge",
			Subsystem: "bridge",
			Name:      "chats_total",
			Help:      "Finished chat requests by outcome",
		},
		[]string{"outcome"},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferbridge",
			Subsystem: "bridge",
			Name:      "errors_total",
			Help:      "Failures surfaced to callers by error code",
		},
		[]string{"code"},
	)

	initDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferbridge",
			Subsystem: "bridge",
			Name:      "init_duration_seconds",
			Help:      "Time from init send to its outcome",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	workerSpawnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inferbridge",
			Subsystem: "bridge",
			Name:      "worker_spawns_total",
			Help:      "Workers started",
		},
	)
)

func init() {
	prometheus.MustRegister(chatsTotal, errorsTotal, initDuration, workerSpawnsTotal)
}

func countError(e *errcode.Error) {
	if e != nil {
		errorsTotal.WithLabelValues(string(e.Code)).Inc()
	}
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
