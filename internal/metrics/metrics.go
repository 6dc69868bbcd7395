package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitesentinel_actions_total",
		Help: "Total number of actions that reached a terminal state.",
	}, []string{"scheduler", "category", "state"})
	ActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitesentinel_action_duration_seconds",
		Help:    "Wall time from action start to completion.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"scheduler", "category"})
	ActionsQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sitesentinel_actions_queued",
		Help: "Number of submitted actions that have not started yet.",
	}, []string{"scheduler"})
	ActionsRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sitesentinel_actions_running",
		Help: "Number of actions currently executing.",
	}, []string{"scheduler"})
	ActionTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitesentinel_action_timeouts_total",
		Help: "Total number of actions canceled by their watchdog.",
	}, []string{"scheduler"})
	CronScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitesentinel_cron_scans_total",
		Help: "Total number of cron scan rounds by strategy.",
	}, []string{"strategy"})
	CronScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sitesentinel_cron_scan_duration_seconds",
		Help:    "Duration of cron scan rounds.",
		Buckets: prometheus.DefBuckets,
	})
	CronEventsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitesentinel_cron_events_scheduled_total",
		Help: "Total number of cron hook firings submitted to the scheduler.",
	})
	CronEventsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitesentinel_cron_events_coalesced_total",
		Help: "Total number of cron events merged into an already scheduled firing.",
	})
	CronEventsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sitesentinel_cron_events_tracked",
		Help: "Number of outstanding cron events held by the dispatcher.",
	})
	InstallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitesentinel_installs_total",
		Help: "Total number of component install/update attempts by outcome.",
	}, []string{"kind", "outcome"})
)
