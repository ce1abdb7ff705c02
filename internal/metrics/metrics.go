package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/local/pdfweaver/internal/weaver"
)

const namespace = "pdfweaver"

var (
	mergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Merge calls by source (cli, job) and status (success, partial, failure)",
		},
		[]string{"source", "status"},
	)

	mergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Duration of merge calls by source",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	pagesMerged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_merged_total",
			Help:      "Total pages written to merged documents",
		},
	)

	skippedFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_files_total",
			Help:      "Included files that contributed no pages, by reason (missing, unsupported, failed)",
		},
		[]string{"reason"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Merge jobs by result (queued, done, failed, retried, dlq, cancelled)",
		},
		[]string{"result"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, pending and dlq",
		},
		[]string{"type"},
	)

	registerOnce sync.Once
)

// Init registers collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(mergesTotal, mergeDuration, pagesMerged, skippedFiles, jobsTotal, queueDepth)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

// ObserveMerge records one merge result.
func ObserveMerge(source string, res *weaver.MergeResult, dur time.Duration) {
	if res == nil {
		return
	}
	mergesTotal.WithLabelValues(source, string(res.Status)).Inc()
	mergeDuration.WithLabelValues(source).Observe(dur.Seconds())
	pagesMerged.Add(float64(res.Pages))
	skippedFiles.WithLabelValues("missing").Add(float64(len(res.MissingPaths)))
	skippedFiles.WithLabelValues("unsupported").Add(float64(len(res.UnsupportedPaths)))
	skippedFiles.WithLabelValues("failed").Add(float64(len(res.FailedPaths)))
}

func IncJob(result string) { jobsTotal.WithLabelValues(result).Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
