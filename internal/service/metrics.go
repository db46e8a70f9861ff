package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readingsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usagewatch_readings_recorded_total",
			Help: "Total number of utility readings recorded.",
		},
		[]string{"utility_type"},
	)
	anomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usagewatch_anomalies_detected_total",
			Help: "Total number of anomalies stored, by utility type and severity.",
		},
		[]string{"utility_type", "severity"},
	)
	portfolioRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usagewatch_portfolio_runs_total",
			Help: "Total number of portfolio analyses, by result.",
		},
		[]string{"result"},
	)
	alertPublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usagewatch_alert_publish_failures_total",
			Help: "Total number of alert events that could not be published.",
		},
	)
	analysisFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usagewatch_analysis_failures_total",
			Help: "Total number of analyses that failed on stored history, by stage.",
		},
		[]string{"stage"},
	)
)
