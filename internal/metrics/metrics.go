// Package metrics defines the Prometheus collectors the engine and ops HTTP
// surface expose, all under the "pi" namespace.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "pi"

var (
	// ManifestPublishedTotal counts completed publish_manifest cycles.
	ManifestPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "manifest_published_total",
		Help:      "Total number of manifests published.",
	})

	// ManifestRecords is the record count of the most recently published manifest.
	ManifestRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "manifest_records",
		Help:      "Number of records in the most recently published manifest.",
	})

	// ManifestCycleDuration measures how long one publish_manifest call takes.
	ManifestCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "manifest_cycle_duration_seconds",
		Help:      "Wall time of one publish_manifest cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// MessagesTotal counts inbound messages by routing key and outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Total inbound messages processed, by routing key and outcome.",
	}, []string{"routing_key", "outcome"})

	// CooldownTransitionsTotal counts manifest cycles that ran the
	// send-to-cooldown step ("entered") or the release step ("released"). It
	// is incremented once per step run, not once per record that changed.
	CooldownTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cooldown_transitions_total",
		Help:      "Total cooldown transitions, by direction.",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(
		ManifestPublishedTotal,
		ManifestRecords,
		ManifestCycleDuration,
		MessagesTotal,
		CooldownTransitionsTotal,
	)
}
