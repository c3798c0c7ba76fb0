package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_paste_uploads_total",
			Help: "no. of paste uploads by outcome",
		},
		[]string{"result"},
	)
	PasteDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_paste_downloads_total",
			Help: "no. of paste downloads by outcome",
		},
		[]string{"result"},
	)
	EdgeCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_edge_cache_total",
			Help: "edge cache lookups and writes by result",
		},
		[]string{"result"},
	)
	StorageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_storage_retries_total",
			Help: "no. of retried storage operations",
		},
		[]string{"op"},
	)
	StorageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pobbin_storage_duration_seconds",
			Help:    "storage operation duration including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_errors_total",
			Help: "no. of error responses by kind",
		},
		[]string{"kind"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pobbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	SchedulerQueue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pobbin_scheduler_queue_depth",
		Help: "background tasks waiting for a worker",
	})
	SchedulerDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pobbin_scheduler_dropped_total",
		Help: "no. of background tasks dropped on a full queue",
	})
	WALCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pobbin_sqlite_wal_checkpoints_total",
			Help: "no. of sqlite WAL checkpoints by mode",
		},
		[]string{"mode"},
	)
)
