package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal — завершённые run по итоговому статусу.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_runs_total",
		Help: "Finished synchronization runs by status",
	}, []string{"status"})

	// RowsSynced — строки, загруженные в целевые таблицы.
	RowsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datasync_rows_synced_total",
		Help: "Rows loaded into target tables",
	})

	// BatchDuration — время обработки одного батча (маппинг, загрузка, удаление).
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "datasync_batch_duration_seconds",
		Help:    "Batch processing duration",
		Buckets: prometheus.DefBuckets,
	})

	// WriteRetries — повторы записи после временных ошибок.
	WriteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_write_retries_total",
		Help: "Write retries after transient errors by operation",
	}, []string{"op"})

	// EndpointCalls — вызовы пользовательских endpoint по результату.
	EndpointCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datasync_endpoint_calls_total",
		Help: "Endpoint flow invocations by outcome",
	}, []string{"outcome"})
)
