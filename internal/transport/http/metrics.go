package httpserver

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc/codes"
)

const metricsNamespace = "usagewatch"

var (
	gatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Gateway requests served, by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)
	gatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Gateway request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	usageCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "grpc_upstream",
			Name:      "requests_total",
			Help:      "Calls from the gateway to the usage service, by RPC and status code.",
		},
		[]string{"method", "code"},
	)
	usageCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "grpc_upstream",
			Name:      "duration_seconds",
			Help:      "Latency of calls to the usage service by RPC.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// routeLabels maps fixed paths to metric labels. Anything else is "other",
// except per-property analysis which folds every id into one label.
var routeLabels = map[string]string{
	"/":                       "index",
	"/healthz":                "healthz",
	"/metrics":                "metrics",
	"/api/readings":           "api_readings",
	"/api/anomalies":          "api_anomalies",
	"/api/properties":         "api_properties",
	"/api/analysis/anomalies": "api_analysis_portfolio",
}

const (
	propertyPrefix   = "/api/properties/"
	analysisSuffix   = "/analysis"
	propertyAnalysis = "api_property_analysis"
)

func routeLabel(path string) string {
	if label, ok := routeLabels[path]; ok {
		return label
	}
	if strings.HasPrefix(path, propertyPrefix) && strings.HasSuffix(path, analysisSuffix) {
		return propertyAnalysis
	}
	return "other"
}

func recordRequest(path, method string, status int, dur time.Duration) {
	route := routeLabel(path)
	gatewayRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	gatewayLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func recordUsageCall(rpc string, code codes.Code, dur time.Duration) {
	usageCalls.WithLabelValues(rpc, code.String()).Inc()
	usageCallLatency.WithLabelValues(rpc).Observe(dur.Seconds())
}
