package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scanVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "malware_scan_verdicts_total",
	Help: "Scan verdicts partitioned by status and whether they were served from cache",
}, []string{"status", "cached"})

var scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "malware_scan_duration_seconds",
	Help:    "Wall time of engine scans in seconds",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
})

func ObserveScan(status string, cached bool, durationSeconds float64) {
	scanVerdicts.WithLabelValues(status, strconv.FormatBool(cached)).Inc()
	if !cached && durationSeconds > 0 {
		scanDuration.Observe(durationSeconds)
	}
}
