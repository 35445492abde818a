package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	archiveRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlpdb_history_archive_runs_total",
			Help: "Total number of history archive cycles by status.",
		},
		[]string{"status"},
	)
	entriesArchivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nlpdb_history_entries_archived_total",
			Help: "Total number of history entries written to Parquet archives.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		archiveRunsTotal,
		entriesArchivedTotal,
	)
}
