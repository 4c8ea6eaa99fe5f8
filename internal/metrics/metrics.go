// Package metrics exposes Prometheus collectors for sessions, connections and
// the inpainting job.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duet_sessions_created_total",
		Help: "Total number of sessions created",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duet_sessions_active",
		Help: "Number of sessions held by the registry",
	})

	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duet_connections_active",
		Help: "Number of open participant connections",
	})

	bindRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duet_bind_rejections_total",
		Help: "Connection binds rejected by reason",
	}, []string{"reason"}) // reason=not_found|capacity

	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duet_messages_dropped_total",
		Help: "Outbound events dropped because the peer outbox was full",
	})

	inpaintJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duet_inpaint_jobs_total",
		Help: "Inpainting jobs by outcome",
	}, []string{"outcome"}) // outcome=done|failed

	inpaintDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "duet_inpaint_duration_seconds",
		Help:    "Wall time of the external inpainting call including preprocessing",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
	})
)

func IncSessionsCreated() { sessionsCreated.Inc() }

func SetSessionsActive(n int) { sessionsActive.Set(float64(n)) }

func ConnectionOpened() { connectionsActive.Inc() }

func ConnectionClosed() { connectionsActive.Dec() }

func IncBindRejection(reason string) { bindRejections.WithLabelValues(reason).Inc() }

func IncMessagesDropped() { messagesDropped.Inc() }

// ObserveInpaint records one finished job.
func ObserveInpaint(outcome string, elapsed time.Duration) {
	inpaintJobs.WithLabelValues(outcome).Inc()
	inpaintDuration.Observe(elapsed.Seconds())
}
