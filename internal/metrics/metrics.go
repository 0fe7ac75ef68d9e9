// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registered collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ScanCycles         *prometheus.CounterVec
	ScanDuration       prometheus.Histogram
	NotificationsSent  *prometheus.CounterVec
	GitHubFetchTotal   *prometheus.CounterVec
	SubscriptionPurges prometheus.Counter
	DedupLockFailures  prometheus.Counter
	StreakCurrent      *prometheus.GaugeVec
}

// New registers all service collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ScanCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streakd_scan_cycles_total",
			Help: "Reminder scan ticks by result.",
		}, []string{"result"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "streakd_scan_duration_seconds",
			Help:    "Wall time of one reminder scan tick.",
			Buckets: prometheus.DefBuckets,
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streakd_notifications_total",
			Help: "Notification attempts by channel and result.",
		}, []string{"channel", "result"}),
		GitHubFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streakd_github_fetch_total",
			Help: "GitHub contribution fetches by source and result.",
		}, []string{"source", "result"}),
		SubscriptionPurges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streakd_push_subscription_purges_total",
			Help: "Stale push subscriptions purged after delivery failures.",
		}),
		DedupLockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streakd_dedup_lock_failures_total",
			Help: "Reminder dedup lock acquisitions that failed at the store.",
		}),
		StreakCurrent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streakd_current_streak_days",
			Help: "Last reconciled current streak per user.",
		}, []string{"user"}),
	}

	registry.MustRegister(
		m.ScanCycles,
		m.ScanDuration,
		m.NotificationsSent,
		m.GitHubFetchTotal,
		m.SubscriptionPurges,
		m.DedupLockFailures,
		m.StreakCurrent,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
