package sync

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	passesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wugsync_passes_total",
			Help: "Reconciliation passes by direction and outcome",
		},
		[]string{"direction", "status"},
	)
	passDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wugsync_pass_duration_seconds",
			Help:    "Reconciliation pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction"},
	)
	deviceActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wugsync_device_actions_total",
			Help: "Per-device reconciliation actions by direction",
		},
		[]string{"direction", "action"},
	)
	deviceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wugsync_device_failures_total",
			Help: "Per-device reconciliation failures by direction and error kind",
		},
		[]string{"direction", "kind"},
	)
	exportStatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wugsync_export_transitions_total",
			Help: "Export record state transitions",
		},
		[]string{"to"},
	)
)

func init() {
	prometheus.MustRegister(passesTotal, passDuration, deviceActionsTotal, deviceFailuresTotal, exportStatesTotal)
}
