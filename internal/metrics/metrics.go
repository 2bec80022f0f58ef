// Package metrics exposes pipeline counters on the ops endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters the pipeline components report into.
type Metrics struct {
	EntriesFlushed    prometheus.Counter
	ChunksSent        prometheus.Counter
	ArchivesSaved     prometheus.Counter
	RowsPushed        prometheus.Counter
	NotificationsSent prometheus.Counter
	TaskRestarts      *prometheus.CounterVec
}

// New registers the counter set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stork_log_entries_flushed_total",
			Help: "Log entries marked posted by the flush engine.",
		}),
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stork_log_chunks_sent_total",
			Help: "Batched log messages delivered to the log channel.",
		}),
		ArchivesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stork_log_archives_saved_total",
			Help: "Compressed log archives uploaded to the backup channel.",
		}),
		RowsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stork_backup_rows_pushed_total",
			Help: "Dirty records written back to the spreadsheet mirror.",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stork_notifications_sent_total",
			Help: "Milestone notifications delivered to users.",
		}),
		TaskRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stork_task_restarts_total",
			Help: "Supervised background task restarts after a failure.",
		}, []string{"task"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EntriesFlushed,
			m.ChunksSent,
			m.ArchivesSaved,
			m.RowsPushed,
			m.NotificationsSent,
			m.TaskRestarts,
		)
	}
	return m
}

// NewNop returns an unregistered counter set for tests and optional wiring.
func NewNop() *Metrics {
	return New(nil)
}
