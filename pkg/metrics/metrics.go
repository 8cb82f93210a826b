package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftoolkit_jobs_submitted_total",
			Help: "Total number of jobs submitted by kind",
		},
		[]string{"kind"},
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftoolkit_jobs_finished_total",
			Help: "Total number of finished jobs by kind and final status",
		},
		[]string{"kind", "status"},
	)

	JobsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftoolkit_jobs_rejected_total",
			Help: "Total number of jobs rejected before processing by reason",
		},
		[]string{"reason"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdftoolkit_job_duration_seconds",
			Help:    "Job processing duration in seconds by kind",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	WorkersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pdftoolkit_workers_busy",
			Help: "Number of worker slots currently processing a job",
		},
	)

	JobsWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pdftoolkit_jobs_waiting",
			Help: "Number of submissions waiting for a worker slot",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftoolkit_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdftoolkit_api_request_duration_seconds",
			Help:    "API request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Storage metrics
	UploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pdftoolkit_upload_bytes_total",
			Help: "Total bytes accepted as uploads",
		},
	)

	FilesCleaned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdftoolkit_files_cleaned_total",
			Help: "Total number of files removed by the cleanup sweeps by area",
		},
		[]string{"area"},
	)

	JobsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pdftoolkit_jobs_expired_total",
			Help: "Total number of terminal jobs removed by the retention sweep",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(JobsRejected)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(WorkersBusy)
	prometheus.MustRegister(JobsWaiting)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(UploadBytes)
	prometheus.MustRegister(FilesCleaned)
	prometheus.MustRegister(JobsExpired)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
