// Package metrics exposes Prometheus collectors for the publication loop.
//
// Collectors are package-level and registered once via Register. The
// recording helpers are no-ops until then, so tests and callers never need
// a nil check.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes.
const (
	OutcomePosted  = "posted"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	regOK atomic.Bool

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotebot",
			Subsystem: "publisher",
			Name:      "runs_total",
			Help:      "Publication runs by outcome and trigger.",
		}, []string{"outcome", "trigger"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quotebot",
			Subsystem: "publisher",
			Name:      "run_duration_seconds",
			Help:      "Duration of generate+send for non-skipped runs.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"outcome"},
	)
	nextPostTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quotebot",
			Subsystem: "publisher",
			Name:      "next_post_timestamp_seconds",
			Help:      "Unix time of the armed publication; 0 when idle.",
		},
	)
	lastPostTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quotebot",
			Subsystem: "publisher",
			Name:      "last_post_timestamp_seconds",
			Help:      "Unix time of the last successful publication.",
		},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotebot",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Health checks by result.",
		}, []string{"result"},
	)
	recoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotebot",
			Subsystem: "health",
			Name:      "recoveries_total",
			Help:      "Times the loop was re-armed by the health monitor.",
		},
	)
	updatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quotebot",
			Subsystem: "telegram",
			Name:      "updates_dropped_total",
			Help:      "Incoming updates dropped because the router queue was full.",
		},
	)
	alertsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quotebot",
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Admin alerts by delivery result.",
		}, []string{"result"},
	)
)

// Register registers all collectors. Safe to call more than once.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runsTotal, runDuration, nextPostTimestamp, lastPostTimestamp, healthChecks, recoveries, updatesDropped, alertsSent}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func ObserveRun(outcome string, forced bool, took time.Duration) {
	if !regOK.Load() {
		return
	}
	trigger := "timer"
	if forced {
		trigger = "force"
	}
	runsTotal.WithLabelValues(outcome, trigger).Inc()
	if outcome != OutcomeSkipped {
		runDuration.WithLabelValues(outcome).Observe(took.Seconds())
	}
	if outcome == OutcomePosted {
		lastPostTimestamp.Set(float64(time.Now().Unix()))
	}
}

func SetNextPost(t time.Time) {
	if !regOK.Load() {
		return
	}
	if t.IsZero() {
		nextPostTimestamp.Set(0)
		return
	}
	nextPostTimestamp.Set(float64(t.Unix()))
}

func ObserveHealth(healthy, recovered bool) {
	if !regOK.Load() {
		return
	}
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	healthChecks.WithLabelValues(result).Inc()
	if recovered {
		recoveries.Inc()
	}
}

func ObserveAlert(delivered bool) {
	if !regOK.Load() {
		return
	}
	result := "sent"
	if !delivered {
		result = "dropped"
	}
	alertsSent.WithLabelValues(result).Inc()
}

func ObserveDroppedUpdate() {
	if !regOK.Load() {
		return
	}
	updatesDropped.Inc()
}
