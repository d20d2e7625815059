package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "segmenta_analysis_jobs_started_total",
		Help: "Analysis jobs that entered the running state.",
	}, []string{"mode"})

	jobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "segmenta_analysis_jobs_completed_total",
		Help: "Analysis jobs that finished successfully.",
	}, []string{"mode"})

	jobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "segmenta_analysis_jobs_failed_total",
		Help: "Analysis jobs that ended in the failed state.",
	}, []string{"mode"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "segmenta_analysis_job_duration_seconds",
		Help:    "Wall-clock duration of completed analysis jobs.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"mode"})

	livePredictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segmenta_live_predictions_total",
		Help: "Synchronous single-point predictions served.",
	})
)

func init() {
	register(jobsStarted, jobsCompleted, jobsFailed, jobDuration, livePredictions)
}

func IncJobStarted(mode string)   { jobsStarted.WithLabelValues(mode).Inc() }
func IncJobCompleted(mode string) { jobsCompleted.WithLabelValues(mode).Inc() }
func IncJobFailed(mode string)    { jobsFailed.WithLabelValues(mode).Inc() }

func ObserveJobDuration(mode string, seconds float64) {
	jobDuration.WithLabelValues(mode).Observe(seconds)
}

func IncLivePrediction() { livePredictions.Inc() }
